package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Condition is the observed physical condition of a device.
type Condition string

// Supported condition values.
const (
	ConditionGood Condition = "Good"
	ConditionFair Condition = "Fair"
	ConditionPoor Condition = "Poor"
)

// Conditions lists every supported condition in display order.
var Conditions = []Condition{ConditionGood, ConditionFair, ConditionPoor}

// Valid reports whether c is one of the supported conditions.
func (c Condition) Valid() bool {
	switch c {
	case ConditionGood, ConditionFair, ConditionPoor:
		return true
	default:
		return false
	}
}

// UnmarshalJSON rejects conditions outside of the supported set.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed := Condition(raw)
	if !parsed.Valid() {
		return fmt.Errorf("unknown condition %q", raw)
	}
	*c = parsed
	return nil
}

// Classification is the output of the device classifier.
type Classification struct {
	// DeviceType is the concrete model family, e.g. "Dell XPS".
	DeviceType string `json:"deviceType"`

	// DeviceCategory is the broad category, e.g. "Laptop".
	DeviceCategory string `json:"deviceCategory"`

	// Condition is the observed condition of the device.
	Condition Condition `json:"condition"`

	// Confidence is the classifier confidence as a percentage.
	Confidence int `json:"confidence"`

	// Components is a descriptive list of the recoverable components.
	Components string `json:"components"`

	// Recyclable is a descriptive recyclable share, e.g. "82% Recyclable".
	Recyclable string `json:"recyclable"`
}

// NewDeviceAnalysis holds the fields of a DeviceAnalysis before it is stored.
// The store assigns ID and CreatedAt.
type NewDeviceAnalysis struct {
	UserID            int       `json:"userId" validate:"required,min=1"`
	DeviceType        string    `json:"deviceType" validate:"required"`
	DeviceCategory    string    `json:"deviceCategory" validate:"required"`
	Condition         Condition `json:"condition" validate:"required,oneof=Good Fair Poor"`
	Confidence        int       `json:"confidence" validate:"min=0,max=100"`
	Components        string    `json:"components"`
	Recyclable        string    `json:"recyclable"`
	RemainingLifespan string    `json:"remainingLifespan"`
	LifespanAnalysis  string    `json:"lifespanAnalysis"`
	ImageURL          string    `json:"imageUrl"`
}

// DeviceAnalysis is the persisted record combining a classification and a
// lifespan prediction for one user submission.
type DeviceAnalysis struct {
	// ID is the unique identifier of the analysis.
	ID int `json:"id" db:"id" bson:"_id"`

	// UserID identifies the user who owns the analysis.
	UserID int `json:"userId" db:"user_id" bson:"user_id"`

	// DeviceType is the concrete model family reported by the classifier.
	DeviceType string `json:"deviceType" db:"device_type" bson:"device_type"`

	// DeviceCategory is the broad category reported by the classifier.
	DeviceCategory string `json:"deviceCategory" db:"device_category" bson:"device_category"`

	// Condition is the observed condition reported by the classifier.
	Condition Condition `json:"condition" db:"condition" bson:"condition"`

	// Confidence is the classifier confidence, 0 to 100.
	Confidence int `json:"confidence" db:"confidence" bson:"confidence"`

	// Components describes the recoverable components of the device.
	Components string `json:"components" db:"components" bson:"components"`

	// Recyclable describes the recyclable share of the device.
	Recyclable string `json:"recyclable" db:"recyclable" bson:"recyclable"`

	// RemainingLifespan is the free-form lifespan estimate from the predictor.
	RemainingLifespan string `json:"remainingLifespan" db:"remaining_lifespan" bson:"remaining_lifespan"`

	// LifespanAnalysis is the free-form explanation from the predictor.
	LifespanAnalysis string `json:"lifespanAnalysis" db:"lifespan_analysis" bson:"lifespan_analysis"`

	// ImageURL is the object storage key of the uploaded photo, if any.
	ImageURL string `json:"imageUrl" db:"image_url" bson:"image_url"`

	// CreatedAt is the server timestamp at which the analysis was stored.
	CreatedAt time.Time `json:"createdAt" db:"created_at" bson:"created_at"`
}

// FromNew builds a stored record from its creation fields.
func FromNew(id int, in NewDeviceAnalysis, createdAt time.Time) DeviceAnalysis {
	return DeviceAnalysis{
		ID:                id,
		UserID:            in.UserID,
		DeviceType:        in.DeviceType,
		DeviceCategory:    in.DeviceCategory,
		Condition:         in.Condition,
		Confidence:        in.Confidence,
		Components:        in.Components,
		Recyclable:        in.Recyclable,
		RemainingLifespan: in.RemainingLifespan,
		LifespanAnalysis:  in.LifespanAnalysis,
		ImageURL:          in.ImageURL,
		CreatedAt:         createdAt,
	}
}
