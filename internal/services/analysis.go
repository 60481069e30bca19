package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ecosort/apiserver/internal/classifier"
	"github.com/ecosort/apiserver/internal/predictor"
	"github.com/ecosort/apiserver/types"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const publishTimeout = 10 * time.Second

// AnalysisRepository defines persistence operations for device analyses.
type AnalysisRepository interface {
	ListByUser(ctx context.Context, userID int) ([]types.DeviceAnalysis, error)
	Get(ctx context.Context, id int) (types.DeviceAnalysis, error)
	Create(ctx context.Context, analysis types.NewDeviceAnalysis) (types.DeviceAnalysis, error)
}

// ImageStore keeps uploaded device photos under object keys.
type ImageStore interface {
	PutImage(ctx context.Context, userID int, data []byte) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// EventPublisher announces stored analyses.
type EventPublisher interface {
	PublishCreated(ctx context.Context, analysis types.DeviceAnalysis) (string, error)
}

// AnalysisOption configures optional collaborators of an AnalysisService.
type AnalysisOption func(*AnalysisService)

// WithImageStore uploads each submitted photo and records its key as imageUrl.
func WithImageStore(images ImageStore) AnalysisOption {
	return func(s *AnalysisService) {
		s.images = images
	}
}

// WithEventPublisher publishes every stored analysis.
func WithEventPublisher(events EventPublisher) AnalysisOption {
	return func(s *AnalysisService) {
		s.events = events
	}
}

// AnalysisService runs the classify pipeline and serves analysis history.
type AnalysisService struct {
	repo       AnalysisRepository
	classifier classifier.Classifier
	predictor  predictor.Predictor
	images     ImageStore
	events     EventPublisher
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewAnalysisService constructs an AnalysisService with the provided dependencies.
func NewAnalysisService(
	repo AnalysisRepository,
	cls classifier.Classifier,
	pred predictor.Predictor,
	logger *zap.Logger,
	opts ...AnalysisOption,
) *AnalysisService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AnalysisService{
		repo:       repo,
		classifier: cls,
		predictor:  pred,
		validate:   newValidator(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Classify classifies the submitted photo, predicts its remaining lifespan and
// stores the combined record for userID.
//
// imageData may carry a data URI prefix. Blank input yields ErrImageRequired
// and a record failing schema checks a *ValidationError. A payload that does
// not decode is still analysed but no photo is stored. Lifespan prediction
// failures never surface here.
func (s *AnalysisService) Classify(ctx context.Context, userID int, imageData string) (types.DeviceAnalysis, error) {
	if strings.TrimSpace(imageData) == "" {
		return types.DeviceAnalysis{}, ErrImageRequired
	}
	image := decodeImage(imageData)

	classification, err := s.classifier.Classify(ctx, image)
	if err != nil {
		return types.DeviceAnalysis{}, fmt.Errorf("classify: %w", err)
	}

	prediction := s.predictor.Predict(ctx, imageData, classification)

	record := types.NewDeviceAnalysis{
		UserID:            userID,
		DeviceType:        classification.DeviceType,
		DeviceCategory:    classification.DeviceCategory,
		Condition:         classification.Condition,
		Confidence:        classification.Confidence,
		Components:        classification.Components,
		Recyclable:        classification.Recyclable,
		RemainingLifespan: prediction.RemainingLifespan,
		LifespanAnalysis:  prediction.Analysis,
	}
	if err := validateStruct(s.validate, record); err != nil {
		return types.DeviceAnalysis{}, err
	}

	if s.images != nil && len(image) > 0 {
		key, err := s.images.PutImage(ctx, userID, image)
		if err != nil {
			s.logger.Warn("image upload failed, storing analysis without image",
				zap.Int("user_id", userID),
				zap.Error(err))
		} else {
			record.ImageURL = key
		}
	}

	analysis, err := s.repo.Create(ctx, record)
	if err != nil {
		s.discardImage(ctx, record.ImageURL)
		return types.DeviceAnalysis{}, fmt.Errorf("store analysis: %w", err)
	}

	s.logger.Info("analysis stored",
		zap.Int("analysis_id", analysis.ID),
		zap.Int("user_id", userID),
		zap.String("device_category", analysis.DeviceCategory),
		zap.Bool("lifespan_fallback", prediction.Fallback))

	s.publish(ctx, analysis)
	return analysis, nil
}

// publish outlives request cancellation so a stored record is still announced
// when the client disconnects.
func (s *AnalysisService) publish(ctx context.Context, analysis types.DeviceAnalysis) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if _, err := s.events.PublishCreated(ctx, analysis); err != nil {
		s.logger.Warn("analysis event publish failed",
			zap.Int("analysis_id", analysis.ID),
			zap.Error(err))
	}
}

func (s *AnalysisService) discardImage(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.images.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("orphaned image not deleted", zap.String("key", key), zap.Error(err))
	}
}

// List returns the analyses owned by userID, newest first.
func (s *AnalysisService) List(ctx context.Context, userID int) ([]types.DeviceAnalysis, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Get returns the analysis with id when it belongs to userID. It returns
// store.ErrNotFound when absent and ErrForbidden when owned by someone else.
func (s *AnalysisService) Get(ctx context.Context, userID, id int) (types.DeviceAnalysis, error) {
	analysis, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.DeviceAnalysis{}, err
	}
	if analysis.UserID != userID {
		return types.DeviceAnalysis{}, ErrForbidden
	}
	return analysis, nil
}

// Image opens the stored photo of an analysis owned by userID. It returns
// ErrNoImage when the analysis has no stored photo.
func (s *AnalysisService) Image(ctx context.Context, userID, id int) (io.ReadCloser, string, error) {
	analysis, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, "", err
	}
	if s.images == nil || analysis.ImageURL == "" {
		return nil, "", ErrNoImage
	}
	rc, err := s.images.Get(ctx, analysis.ImageURL)
	if err != nil {
		return nil, "", fmt.Errorf("open image %s: %w", analysis.ImageURL, err)
	}
	return rc, analysis.ImageURL, nil
}

var imageEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// decodeImage returns the photo bytes, or nil when no known base64 alphabet
// accepts the payload.
func decodeImage(imageData string) []byte {
	payload := strings.TrimSpace(predictor.StripDataURI(imageData))
	for _, enc := range imageEncodings {
		if image, err := enc.DecodeString(payload); err == nil && len(image) > 0 {
			return image
		}
	}
	return nil
}
