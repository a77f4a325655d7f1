package pubsubapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	apioption "google.golang.org/api/option"
	pubsubv1 "google.golang.org/api/pubsub/v1"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/sdmapi"
)

const DefaultMaxMessageAge = time.Minute * 20

type Live struct {
	sdmProjectID   string
	gcpProjectID   string
	subscriptionID string
	options        []apioption.ClientOption
	timeout        time.Duration
	maxMessageAge  time.Duration
	maxMessages    int64
	logMessages    bool
}

func NewLiveClient(sdmProjectID string, gcpProjectID string, subscriptionID string) *Live {
	return &Live{
		sdmProjectID:   sdmProjectID,
		gcpProjectID:   gcpProjectID,
		subscriptionID: subscriptionID,
		maxMessageAge:  DefaultMaxMessageAge,
		maxMessages:    10,
	}
}

func (c *Live) WithServiceAccountCreds(credsFile string) *Live {
	return c.WithClientOptions(apioption.WithCredentialsFile(credsFile))
}

// WithClientOptions adds raw API client options, eg. an endpoint override
func (c *Live) WithClientOptions(opts ...apioption.ClientOption) *Live {
	nc := *c
	nc.options = append(append([]apioption.ClientOption{}, c.options...), opts...)
	return &nc
}

func (c *Live) WithTimeout(d time.Duration) PubSub {
	nc := *c
	nc.timeout = d
	return &nc
}

func (c *Live) WithMaxMessageAge(d time.Duration) *Live {
	nc := *c
	nc.maxMessageAge = d
	return &nc
}

func (c *Live) WithLogMessages() *Live {
	nc := *c
	nc.logMessages = true
	return &nc
}

func (c *Live) api(ctx context.Context) (*pubsubv1.Service, error) {
	pubsub, err := pubsubv1.NewService(ctx, c.options...)
	if err != nil {
		return nil, err
	}

	return pubsub, nil
}

func (c *Live) makeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}

	return context.WithCancel(ctx)
}

func (c *Live) subscription() string {
	return "projects/" + c.gcpProjectID + "/subscriptions/" + c.subscriptionID
}

/*
  Message format for resource updates:

{
	"eventId" : "0120ecc7-3b57-4eb4-9941-91609f189fb4",
	"timestamp" : "2019-01-01T00:00:01Z",
	"resourceUpdate" : {
	  "name" : "enterprises/project-id/devices/device-id",
	  "traits" : {
		"sdm.devices.traits.ThermostatMode" : {
		  "mode" : "COOL"
		}
	  }
	},
	"userId": "AVPHwEuBfnPOnTqzVFT4IONX2Qqhu9EJ4ubO-bNnQ-yi"
}
*/

type sdmResourceUpdate struct {
	Name   string          `json:"name"`
	Traits json.RawMessage `json:"traits"`
}

type sdmEvent struct {
	EventID        string             `json:"eventId"`
	Timestamp      time.Time          `json:"timestamp"`
	ResourceUpdate *sdmResourceUpdate `json:"resourceUpdate,omitempty"`
	UserID         string             `json:"userId"`
}

func (c *Live) AckMessages(ctx context.Context, ackIDs []string) error {
	s, err := c.api(ctx)
	if err != nil {
		return errors.Wrap(err, "initialising the api")
	}

	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	ackRequest := pubsubv1.AcknowledgeRequest{
		AckIds: ackIDs,
	}

	if _, err = s.Projects.Subscriptions.Acknowledge(c.subscription(), &ackRequest).Context(ctx).Do(); err != nil {
		return errors.Wrap(err, "executing acknowledge call")
	}

	logging.Logger(ctx).Debugf("sent ACK %v", ackIDs)

	return nil
}

// parseReceivedMessages splits a pull into events worth processing and
// messages that should simply be acknowledged: stale ones and anything that
// is not a resource update
func (c *Live) parseReceivedMessages(ctx context.Context, messages []*pubsubv1.ReceivedMessage) (toAck []string, events []SdmEvent) {
	log := logging.Logger(ctx)

	for _, message := range messages {
		if message.Message == nil {
			continue
		}
		log.Infof("pubsub message: ID %s, delivery attempt %d", message.Message.MessageId, message.DeliveryAttempt)

		data, err := base64.StdEncoding.DecodeString(message.Message.Data)
		if err != nil {
			log.WithError(err).Error("decoding base64-encoded data field")
			continue
		}
		if c.logMessages {
			log.Debugf("message data (ID %s): %s", message.Message.MessageId, data)
		}

		publishTime, err := time.Parse(time.RFC3339Nano, message.Message.PublishTime)
		if err != nil {
			log.WithError(err).Warnf("parsing message publish time (`%s`)", message.Message.PublishTime)
		} else if time.Now().After(publishTime.Add(c.maxMessageAge)) {
			log.Warnf("ignoring message ID %s, older than %s (%s)", message.Message.MessageId, c.maxMessageAge, publishTime)
			toAck = append(toAck, message.AckId)
			continue
		}

		event := sdmEvent{}
		if err := json.Unmarshal(data, &event); err != nil {
			log.WithError(err).Error("parsing SDM event")
			continue
		}

		if event.ResourceUpdate == nil {
			log.Warnf("ignoring message ID %s, not a resource update", message.Message.MessageId)
			toAck = append(toAck, message.AckId)
			continue
		}

		t := sdmapi.NewTraits()
		if err := t.Parse(event.ResourceUpdate.Traits); err != nil {
			log.WithError(err).Error("parsing device traits")
			continue
		}

		events = append(events, SdmEvent{
			AckID:     message.AckId,
			Timestamp: event.Timestamp,
			DeviceID:  c.shortDeviceName(event.ResourceUpdate.Name),
			Traits:    t,
		})
	}

	return
}

func (c *Live) shortDeviceName(longName string) string {
	return strings.TrimPrefix(longName, "enterprises/"+c.sdmProjectID+"/devices/")
}

func (c *Live) Pull(ctx context.Context) ([]SdmEvent, error) {
	s, err := c.api(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "initialising the api")
	}

	pctx, cancel := c.makeContext(ctx)
	defer cancel()

	pullRequest := pubsubv1.PullRequest{
		MaxMessages: c.maxMessages,
	}

	response, err := s.Projects.Subscriptions.Pull(c.subscription(), &pullRequest).Context(pctx).Do()
	if err != nil {
		return nil, errors.Wrap(err, "pulling messages from topic subscription")
	}

	messagesToAck, events := c.parseReceivedMessages(ctx, response.ReceivedMessages)

	if len(messagesToAck) > 0 {
		if err := c.AckMessages(ctx, messagesToAck); err != nil {
			logging.Logger(ctx).WithError(err).Warnf("acknowledging %d ignored messages", len(messagesToAck))
		}
	}

	return events, nil
}
