package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/warp/club-activity-engine/engine"
)

// DefaultTopic receives RewardApproved events.
const DefaultTopic = "club-activity.reward-approved"

// EventRewardApproved is the type header of approval messages.
const EventRewardApproved = "club_activity.reward_approved.v1"

type messageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// Publisher implements engine.EventPublisher on top of Kafka. Messages
// are keyed by club so one club's approvals stay ordered in a partition.
type Publisher struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

func NewPublisher(writer messageWriter, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{writer: writer, topic: topic, now: time.Now}
}

// rewardApprovedPayload is the wire format of an approval.
type rewardApprovedPayload struct {
	ClubID          string    `json:"club_id"`
	Period          string    `json:"period"`
	AwardLevel      string    `json:"award_level"`
	FinalScore      string    `json:"final_score"`
	RewardPoints    int64     `json:"reward_points"`
	DistributionRef string    `json:"distribution_ref,omitempty"`
	ApprovedBy      string    `json:"approved_by"`
	ApprovedAt      time.Time `json:"approved_at"`
	IdempotencyKey  string    `json:"idempotency_key"`
}

func (p *Publisher) PublishRewardApproved(ctx context.Context, evt engine.RewardApproved) error {
	value, err := json.Marshal(rewardApprovedPayload{
		ClubID:          string(evt.ClubID),
		Period:          evt.Period.String(),
		AwardLevel:      string(evt.AwardLevel),
		FinalScore:      evt.FinalScore,
		RewardPoints:    evt.RewardPoints,
		DistributionRef: evt.DistributionRef,
		ApprovedBy:      evt.ApprovedBy,
		ApprovedAt:      evt.ApprovedAt.UTC(),
		IdempotencyKey:  evt.IdempotencyKey,
	})
	if err != nil {
		return fmt.Errorf("failed to encode reward approved event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(evt.ClubID),
		Value: value,
		Time:  p.now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventRewardApproved)},
			{Key: "idempotency_key", Value: []byte(evt.IdempotencyKey)},
		},
	}
	if err := p.writer.WriteMessages(ctx, p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}
	return nil
}
