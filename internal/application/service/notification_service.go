package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/reimburse-flow/internal/application/dispatcher"
	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/event"
)

// Logger is the logging surface services need
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

const summaryTimeout = 15 * time.Second

// NotificationService turns lifecycle events into messages for approvers and applicants
type NotificationService struct {
	notifier    port.Notifier
	summarizer  port.Summarizer
	instances   port.InstanceRepository
	definitions port.DefinitionRepository
	logger      Logger
}

// NewNotificationService creates a new NotificationService; summarizer may be nil
func NewNotificationService(
	notifier port.Notifier,
	summarizer port.Summarizer,
	instances port.InstanceRepository,
	definitions port.DefinitionRepository,
	logger Logger,
) *NotificationService {
	return &NotificationService{
		notifier:    notifier,
		summarizer:  summarizer,
		instances:   instances,
		definitions: definitions,
		logger:      logger,
	}
}

// Subscribe registers the handlers for each workflow type
func (s *NotificationService) Subscribe(d dispatcher.Dispatcher, flowKeys ...string) {
	for _, key := range flowKeys {
		d.SubscribeFlow(key, event.TypeTaskEntered, "notify-approvers-"+key, s.onTaskEntered)
		d.SubscribeFlow(key, event.TypeWorkflowEnded, "notify-approved-"+key, s.onEnded)
		d.SubscribeFlow(key, event.TypeWorkflowRejected, "notify-rejected-"+key, s.onRejected)
	}
}

func (s *NotificationService) onTaskEntered(ctx context.Context, evt *event.Event) error {
	actors := evt.GetPayloadInts(event.KeyActors)
	if len(actors) == 0 {
		return nil
	}

	flowName := s.flowName(ctx, evt.FlowKey)
	msg := port.Message{
		Title:      fmt.Sprintf("[%s #%d] awaiting your approval: %s", flowName, evt.InstanceID, evt.GetPayloadString(event.KeyNodeName)),
		FlowKey:    evt.FlowKey,
		InstanceID: evt.InstanceID,
	}
	msg.Body = s.summary(ctx, evt.InstanceID, flowName)

	return s.send(ctx, actors, msg)
}

func (s *NotificationService) onEnded(ctx context.Context, evt *event.Event) error {
	msg := port.Message{
		Title:      fmt.Sprintf("[%s #%d] approved", s.flowName(ctx, evt.FlowKey), evt.InstanceID),
		FlowKey:    evt.FlowKey,
		InstanceID: evt.InstanceID,
	}
	return s.send(ctx, evt.GetPayloadInts(event.KeyActors), msg)
}

func (s *NotificationService) onRejected(ctx context.Context, evt *event.Event) error {
	msg := port.Message{
		Title: fmt.Sprintf("[%s #%d] rejected at %s by %s",
			s.flowName(ctx, evt.FlowKey), evt.InstanceID,
			evt.GetPayloadString(event.KeyNodeName), evt.GetPayloadString(event.KeyOperator)),
		FlowKey:    evt.FlowKey,
		InstanceID: evt.InstanceID,
	}
	return s.send(ctx, evt.GetPayloadInts(event.KeyActors), msg)
}

func (s *NotificationService) send(ctx context.Context, userIDs []int64, msg port.Message) error {
	if len(userIDs) == 0 {
		return nil
	}
	if err := s.notifier.Notify(ctx, userIDs, msg); err != nil {
		s.logger.Error("Failed to send notification", "error", err, "instance_id", msg.InstanceID)
		return fmt.Errorf("notify: %w", err)
	}
	s.logger.Info("Notification sent", "instance_id", msg.InstanceID, "recipients", len(userIDs))
	return nil
}

// summary is best effort: approvers still get the message when the model is unavailable
func (s *NotificationService) summary(ctx context.Context, instanceID int64, flowName string) string {
	if s.summarizer == nil {
		return ""
	}

	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil || inst == nil {
		s.logger.Error("Failed to load instance for summary", "error", err, "instance_id", instanceID)
		return ""
	}
	params, err := inst.Params()
	if err != nil {
		s.logger.Error("Failed to decode params for summary", "error", err, "instance_id", instanceID)
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	text, err := s.summarizer.Summarize(ctx, flowName, params)
	if err != nil {
		s.logger.Error("Failed to summarize instance", "error", err, "instance_id", instanceID)
		return ""
	}
	return text
}

func (s *NotificationService) flowName(ctx context.Context, flowKey string) string {
	def, err := s.definitions.GetLatestByFlowKey(ctx, flowKey)
	if err != nil || def == nil || def.FlowName == "" {
		return flowKey
	}
	return def.FlowName
}
