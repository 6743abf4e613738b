package processor

import (
	"runtime/debug"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/cache"
	"github.com/dselans/fivehundred/services/publisher"
	"github.com/dselans/fivehundred/util"
	"github.com/dselans/fivehundred/validate"
)

// ConsumeFunc is executed by the "rabbit" library whenever Consume() reads a
// new message from RabbitMQ. Messages are acked up front; a lookup that
// fails is recorded by the importer and not redelivered.
func (p *Processor) ConsumeFunc(msg amqp.Delivery) error {
	logger := p.log.With(
		zap.String("method", "ConsumeFunc"),
		zap.String("routingKey", msg.RoutingKey),
	)

	txn := p.options.NewRelic.StartTransaction("ProcessorService.ConsumeFunc")
	defer txn.End()

	// ConsumeFunc runs in goroutine
	defer func() {
		if r := recover(); r != nil {
			util.Error(txn, logger, "recovered from panic", nil,
				zap.Any("panic", r),
				zap.Stack("stack"),
				zap.Any("panicTrace", string(debug.Stack())),
			)
		}
	}()

	if err := msg.Ack(false); err != nil {
		util.Error(txn, logger, "unable to acknowledge message", err)
		return nil
	}

	req, eventID, err := decodeLookup(msg.Body)
	if err != nil {
		util.Error(txn, logger, "unable to decode lookup request", err)
		return nil
	}

	if err := validate.LookupRequest(req); err != nil {
		util.Error(txn, logger, "unable to validate lookup request", err)
		return nil
	}

	if eventID != "" {
		if p.seen(eventID) {
			logger.Debug("Dropping redelivered event", zap.String("cloudEventID", eventID))
			return nil
		}

		logger = logger.With(zap.String("cloudEventID", eventID))
		txn.AddAttribute("cloudEventID", eventID)
	}

	ctx := util.ContextWithLogger(p.options.ShutdownCtx, logger)
	ctx = newrelic.NewContext(ctx, txn)

	if err := p.handleLookupRequest(ctx, req); err != nil {
		util.Error(txn, logger, "error processing message", err)
		return nil
	}

	return nil
}

// decodeLookup accepts either a protobuf event envelope or a bare JSON
// request; the event id is empty for the latter.
func decodeLookup(body []byte) (*publisher.LookupRequest, string, error) {
	if len(body) == 0 {
		return nil, "", errors.New("message body is empty")
	}

	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		if !parsed.IsObject() {
			return nil, "", errors.New("json message must be an object")
		}

		return &publisher.LookupRequest{
			Query:  parsed.Get("query").String(),
			Artist: parsed.Get("artist").String(),
			Title:  parsed.Get("title").String(),
			DryRun: parsed.Get("dry_run").Bool(),
		}, "", nil
	}

	event, err := publisher.DecodeEvent(body)
	if err != nil {
		return nil, "", err
	}

	if err := validate.Event(event); err != nil {
		return nil, "", errors.Wrap(err, "unable to validate event")
	}

	req, err := publisher.DecodeLookupRequest(event)
	if err != nil {
		return nil, "", err
	}

	return req, event.GetFields()[publisher.FieldID].GetStringValue(), nil
}

func (p *Processor) seen(eventID string) bool {
	return p.options.Cache.Add(eventKey(eventID), true, p.options.SeenTTL) != nil
}

func eventKey(id string) string {
	return cache.Key(cache.EventPrefix, id)
}
