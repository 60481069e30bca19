package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/ecosort/apiserver/internal/classifier"
	"github.com/ecosort/apiserver/internal/predictor"
	"github.com/ecosort/apiserver/internal/store"
	"github.com/ecosort/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var pngImage = "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nfake-image"))

type fixedClassifier struct {
	result types.Classification
	err    error
}

func (c fixedClassifier) Classify(context.Context, []byte) (types.Classification, error) {
	return c.result, c.err
}

type fixedPredictor struct {
	prediction predictor.Prediction
	calls      int
	lastImage  string
}

func (p *fixedPredictor) Predict(_ context.Context, image string, _ types.Classification) predictor.Prediction {
	p.calls++
	p.lastImage = image
	return p.prediction
}

type fakeImages struct {
	key     string
	err     error
	data    []byte
	deleted []string
}

func (f *fakeImages) PutImage(_ context.Context, _ int, data []byte) (string, error) {
	f.data = data
	return f.key, f.err
}

func (f *fakeImages) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if key != f.key {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (f *fakeImages) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type failingRepo struct {
	*store.MemoryAnalysisRepository
}

func (failingRepo) Create(context.Context, types.NewDeviceAnalysis) (types.DeviceAnalysis, error) {
	return types.DeviceAnalysis{}, errors.New("connection reset")
}

type fakeEvents struct {
	mu        sync.Mutex
	published []types.DeviceAnalysis
	err       error
}

func (f *fakeEvents) PublishCreated(_ context.Context, analysis types.DeviceAnalysis) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, analysis)
	return "msg", f.err
}

func laptop() types.Classification {
	return types.Classification{
		DeviceType:     "Dell XPS",
		DeviceCategory: "Laptop",
		Condition:      types.ConditionFair,
		Confidence:     80,
		Components:     "Battery, Screen",
		Recyclable:     "75% Recyclable",
	}
}

func newTestService(t *testing.T, cls classifier.Classifier, pred predictor.Predictor, opts ...AnalysisOption) (*AnalysisService, *store.MemoryAnalysisRepository) {
	t.Helper()
	repo := store.NewMemoryAnalysisRepository()
	return NewAnalysisService(repo, cls, pred, zap.NewNop(), opts...), repo
}

func TestClassifyStoresCombinedRecord(t *testing.T) {
	pred := &fixedPredictor{prediction: predictor.Prediction{RemainingLifespan: "2-3 years", Analysis: "Minor wear."}}
	svc, repo := newTestService(t, fixedClassifier{result: laptop()}, pred)

	analysis, err := svc.Classify(context.Background(), 7, pngImage)
	require.NoError(t, err)

	assert.Equal(t, 1, analysis.ID)
	assert.Equal(t, 7, analysis.UserID)
	assert.Equal(t, "Dell XPS", analysis.DeviceType)
	assert.Equal(t, "Laptop", analysis.DeviceCategory)
	assert.Equal(t, types.ConditionFair, analysis.Condition)
	assert.Equal(t, 80, analysis.Confidence)
	assert.Equal(t, "2-3 years", analysis.RemainingLifespan)
	assert.Equal(t, "Minor wear.", analysis.LifespanAnalysis)
	assert.Empty(t, analysis.ImageURL)
	assert.False(t, analysis.CreatedAt.IsZero())
	assert.Equal(t, pngImage, pred.lastImage)

	stored, err := repo.Get(context.Background(), analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, analysis, stored)
}

func TestClassifyWithStubClassifierStaysInRange(t *testing.T) {
	cls := classifier.NewStubClassifier(classifier.WithDelay(0), classifier.WithRand(rand.New(rand.NewPCG(1, 2))))
	pred := &fixedPredictor{prediction: predictor.Fallback(errors.New("no key"))}
	svc, _ := newTestService(t, cls, pred)

	for i := 0; i < 20; i++ {
		analysis, err := svc.Classify(context.Background(), 1, pngImage)
		require.NoError(t, err)
		assert.True(t, analysis.Condition.Valid())
		assert.GreaterOrEqual(t, analysis.Confidence, classifier.MinConfidence)
		assert.Less(t, analysis.Confidence, classifier.MaxConfidence)
		assert.True(t, strings.HasSuffix(analysis.Recyclable, "% Recyclable"))
	}
}

func TestClassifyRejectsMissingImage(t *testing.T) {
	pred := &fixedPredictor{}
	svc, repo := newTestService(t, fixedClassifier{result: laptop()}, pred)

	for _, image := range []string{"", "   ", "\n\t"} {
		_, err := svc.Classify(context.Background(), 1, image)
		require.ErrorIs(t, err, ErrImageRequired)
	}

	assert.Zero(t, pred.calls)
	list, err := repo.ListByUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClassifyAcceptsLooseEncodings(t *testing.T) {
	raw := []byte("\xff\xd8\xff\xe0\xfb\xefjpeg")

	tests := []struct {
		name   string
		image  string
		stored []byte
	}{
		{name: "padded", image: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw), stored: raw},
		{name: "unpadded", image: "data:image/png;base64,iVBORw0KGgo", stored: []byte("\x89PNG\r\n\x1a\n")},
		{name: "url safe", image: base64.RawURLEncoding.EncodeToString(raw), stored: raw},
		{name: "svg", image: "data:image/svg+xml;base64,PHN2Zy8+", stored: []byte("<svg/>")},
		{name: "undecodable", image: "data:image/png;base64,@@@"},
		{name: "prefix only", image: "data:image/png;base64,"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := &fixedPredictor{prediction: predictor.Fallback(errors.New("bad image"))}
			images := &fakeImages{key: "users/1/photo"}
			svc, repo := newTestService(t, fixedClassifier{result: laptop()}, pred, WithImageStore(images))

			analysis, err := svc.Classify(context.Background(), 1, tt.image)
			require.NoError(t, err)
			assert.Equal(t, 1, pred.calls)
			assert.Equal(t, tt.image, pred.lastImage)
			assert.Equal(t, tt.stored, images.data)
			if tt.stored == nil {
				assert.Empty(t, analysis.ImageURL)
			} else {
				assert.Equal(t, images.key, analysis.ImageURL)
			}

			list, err := repo.ListByUser(context.Background(), 1)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestClassifyFallbackPredictionStillStores(t *testing.T) {
	pred := &fixedPredictor{prediction: predictor.Fallback(errors.New("status 500"))}
	svc, _ := newTestService(t, fixedClassifier{result: laptop()}, pred)

	analysis, err := svc.Classify(context.Background(), 3, pngImage)
	require.NoError(t, err)
	assert.Equal(t, predictor.FallbackLifespan, analysis.RemainingLifespan)
	assert.Equal(t, predictor.FallbackAnalysis, analysis.LifespanAnalysis)
}

func TestClassifyValidationFailureDoesNotPersist(t *testing.T) {
	bad := laptop()
	bad.Confidence = 150
	bad.Condition = "Broken"
	bad.DeviceType = ""
	svc, repo := newTestService(t, fixedClassifier{result: bad}, &fixedPredictor{})

	_, err := svc.Classify(context.Background(), 1, pngImage)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	fields := map[string]string{}
	for _, f := range verr.Fields {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "is required", fields["deviceType"])
	assert.Equal(t, "must be one of: Good, Fair, Poor", fields["condition"])
	assert.Equal(t, "must be at most 100", fields["confidence"])

	list, err := repo.ListByUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClassifyPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cls := classifier.NewStubClassifier(classifier.WithDelay(classifier.DefaultDelay))
	pred := &fixedPredictor{}
	svc, _ := newTestService(t, cls, pred)

	_, err := svc.Classify(ctx, 1, pngImage)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, pred.calls)
}

func TestClassifyUploadsImageAndPublishes(t *testing.T) {
	images := &fakeImages{key: "analyses/5/abc.png"}
	events := &fakeEvents{}
	svc, _ := newTestService(t, fixedClassifier{result: laptop()}, &fixedPredictor{},
		WithImageStore(images), WithEventPublisher(events))

	analysis, err := svc.Classify(context.Background(), 5, pngImage)
	require.NoError(t, err)
	assert.Equal(t, "analyses/5/abc.png", analysis.ImageURL)
	assert.True(t, strings.HasPrefix(string(images.data), "\x89PNG"))
	require.Len(t, events.published, 1)
	assert.Equal(t, analysis, events.published[0])
}

func TestClassifyToleratesAttachmentFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	repo := store.NewMemoryAnalysisRepository()
	svc := NewAnalysisService(repo, fixedClassifier{result: laptop()}, &fixedPredictor{}, zap.New(core),
		WithImageStore(&fakeImages{err: errors.New("bucket gone")}),
		WithEventPublisher(&fakeEvents{err: errors.New("broker down")}))

	analysis, err := svc.Classify(context.Background(), 2, pngImage)
	require.NoError(t, err)
	assert.Empty(t, analysis.ImageURL)
	assert.Equal(t, 1, logs.FilterMessage("image upload failed, storing analysis without image").Len())
	assert.Equal(t, 1, logs.FilterMessage("analysis event publish failed").Len())
}

func TestGetEnforcesOwnership(t *testing.T) {
	svc, _ := newTestService(t, fixedClassifier{result: laptop()}, &fixedPredictor{})
	analysis, err := svc.Classify(context.Background(), 1, pngImage)
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), 1, analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, analysis, got)

	_, err = svc.Get(context.Background(), 2, analysis.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Get(context.Background(), 1, 99)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListIsolatesUsers(t *testing.T) {
	svc, _ := newTestService(t, fixedClassifier{result: laptop()}, &fixedPredictor{})
	for _, userID := range []int{1, 2, 1} {
		_, err := svc.Classify(context.Background(), userID, pngImage)
		require.NoError(t, err)
	}

	mine, err := svc.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, 3, mine[0].ID)
	assert.Equal(t, 1, mine[1].ID)

	none, err := svc.List(context.Background(), 42)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestClassifyPersistFailureDiscardsImage(t *testing.T) {
	images := &fakeImages{key: "analyses/1/x.png"}
	repo := failingRepo{store.NewMemoryAnalysisRepository()}
	svc := NewAnalysisService(repo, fixedClassifier{result: laptop()}, &fixedPredictor{}, zap.NewNop(), WithImageStore(images))

	_, err := svc.Classify(context.Background(), 1, pngImage)
	require.Error(t, err)
	assert.Equal(t, []string{"analyses/1/x.png"}, images.deleted)
}

func TestImageServesOwnedPhoto(t *testing.T) {
	images := &fakeImages{key: "analyses/1/x.png"}
	svc, _ := newTestService(t, fixedClassifier{result: laptop()}, &fixedPredictor{}, WithImageStore(images))

	analysis, err := svc.Classify(context.Background(), 1, pngImage)
	require.NoError(t, err)

	rc, key, err := svc.Image(context.Background(), 1, analysis.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, images.data, data)
	assert.Equal(t, "analyses/1/x.png", key)

	_, _, err = svc.Image(context.Background(), 2, analysis.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestImageWithoutStoredPhoto(t *testing.T) {
	svc, _ := newTestService(t, fixedClassifier{result: laptop()}, &fixedPredictor{})
	analysis, err := svc.Classify(context.Background(), 1, pngImage)
	require.NoError(t, err)

	_, _, err = svc.Image(context.Background(), 1, analysis.ID)
	require.ErrorIs(t, err, ErrNoImage)
}
