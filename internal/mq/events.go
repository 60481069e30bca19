package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ecosort/apiserver/types"
)

// EventAnalysisCreated is the event attribute value for new analyses.
const EventAnalysisCreated = "analysis.created"

// Attribute keys set on analysis events.
const (
	AttrEvent  = "event"
	AttrUserID = "user_id"
)

// AnalysisPublisher announces stored analyses on a fixed channel.
type AnalysisPublisher struct {
	mq      *MQ
	channel string
}

func NewAnalysisPublisher(mq *MQ, channel string) *AnalysisPublisher {
	return &AnalysisPublisher{mq: mq, channel: channel}
}

// PublishCreated sends the analysis as JSON and returns the broker message id.
func (p *AnalysisPublisher) PublishCreated(ctx context.Context, analysis types.DeviceAnalysis) (string, error) {
	data, err := json.Marshal(analysis)
	if err != nil {
		return "", fmt.Errorf("encode analysis %d: %w", analysis.ID, err)
	}
	return p.mq.Publish(ctx, p.channel, data, map[string]string{
		AttrEvent:  EventAnalysisCreated,
		AttrUserID: strconv.Itoa(analysis.UserID),
	})
}

// DecodeAnalysis parses the payload of an analysis event.
func DecodeAnalysis(msg Message) (types.DeviceAnalysis, error) {
	var analysis types.DeviceAnalysis
	if err := json.Unmarshal(msg.Data, &analysis); err != nil {
		return types.DeviceAnalysis{}, fmt.Errorf("decode message %s: %w", msg.ID, err)
	}
	return analysis, nil
}
