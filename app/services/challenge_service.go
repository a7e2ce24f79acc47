// Package services provides external service integrations and technical concerns like verification and tokens
package services

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wenlng/go-captcha/v2/rotate"
)

// ChallengeService issues and verifies interactive proof-of-humanity
// challenges using the rotate captcha mode from go-captcha.
// Reference: https://github.com/wenlng/go-captcha
//
// Flow:
// - Generate: returns a challenge ID and two base64 images (master and thumb)
// - Verify: validates a user-provided angle against the stored target angle with tolerance
// - Challenges are stored in-memory with TTL and removed on success/expiry
//
// A solved challenge lets a submission through when the background bot check
// said no; it is consumed on first use either way.
type ChallengeService interface {
	// Generate creates a rotate challenge and returns the assets and challenge ID
	Generate(ctx context.Context) (*Challenge, error)
	// Verify validates the provided user angle for a given challenge ID
	Verify(ctx context.Context, challengeID string, userAngle float64) bool
}

type Challenge struct {
	ID                string
	MasterImageBase64 string
	ThumbImageBase64  string
}

type challengeServiceImpl struct {
	rotator   rotate.Captcha
	store     *challengeStore
	padding   int // tolerance for angle validation
	imgSizePx int // square size for rotate challenge images
}

// NewChallengeService constructs a ChallengeService using rotate mode
// ttl: time window during which a challenge remains valid
// padding: acceptable angle difference (degrees) when validating
// imgSizePx: square size for generated images (e.g., 220)
func NewChallengeService(ttl time.Duration, padding int, imgSizePx int) (ChallengeService, error) {
	if imgSizePx <= 0 {
		imgSizePx = 220
	}

	builder := rotate.NewBuilder(
		rotate.WithImageSquareSize(imgSizePx),
	)
	builder.SetResources(
		rotate.WithImages(generateChallengeBackgrounds(3, imgSizePx)),
	)
	rotator := builder.Make()

	return &challengeServiceImpl{
		rotator:   rotator,
		store:     newChallengeStore(ttl),
		padding:   padding,
		imgSizePx: imgSizePx,
	}, nil
}

func (s *challengeServiceImpl) Generate(ctx context.Context) (*Challenge, error) {
	captData, err := s.rotator.Generate()
	if err != nil {
		return nil, err
	}

	block := captData.GetData()
	if block == nil {
		return nil, err
	}

	masterB64, err := captData.GetMasterImage().ToBase64()
	if err != nil {
		return nil, err
	}
	thumbB64, err := captData.GetThumbImage().ToBase64()
	if err != nil {
		return nil, err
	}

	challengeID := uuid.New().String()
	s.store.Set(challengeID, challengeEntry{
		targetAngle: block.Angle,
		expiresAt:   time.Now().Add(s.store.ttl),
	})

	return &Challenge{
		ID:                challengeID,
		MasterImageBase64: masterB64,
		ThumbImageBase64:  thumbB64,
	}, nil
}

func (s *challengeServiceImpl) Verify(ctx context.Context, challengeID string, userAngle float64) bool {
	entry, ok := s.store.Get(challengeID)
	if !ok {
		return false
	}

	// Validator expects integer degrees
	ua := int(math.Round(userAngle))
	ok = rotate.Validate(ua, entry.targetAngle, s.padding)
	// consume on success or failure
	s.store.Delete(challengeID)

	return ok
}

// --- In-memory store with TTL ---

type challengeEntry struct {
	targetAngle int
	expiresAt   time.Time
}

type challengeStore struct {
	mu  sync.RWMutex
	m   map[string]challengeEntry
	ttl time.Duration
}

func newChallengeStore(ttl time.Duration) *challengeStore {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	cs := &challengeStore{
		m:   make(map[string]challengeEntry),
		ttl: ttl,
	}
	// Background cleanup goroutine
	go cs.cleanupLoop()
	return cs
}

func (s *challengeStore) Set(id string, e challengeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = e
}

func (s *challengeStore) Get(id string) (challengeEntry, bool) {
	s.mu.RLock()
	e, ok := s.m[id]
	s.mu.RUnlock()
	if !ok {
		return challengeEntry{}, false
	}
	if time.Now().After(e.expiresAt) {
		s.Delete(id)
		return challengeEntry{}, false
	}
	return e, true
}

func (s *challengeStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}

func (s *challengeStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		s.mu.Lock()
		for k, v := range s.m {
			if now.After(v.expiresAt) {
				delete(s.m, k)
			}
		}
		s.mu.Unlock()
	}
}

// --- Utility: generate simple background images programmatically ---

func generateChallengeBackgrounds(n int, size int) []image.Image {
	if n <= 0 {
		n = 1
	}
	imgs := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		imgs = append(imgs, newStarfieldImage(size, size))
	}
	return imgs
}

func newStarfieldImage(w, h int) image.Image {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	// Vertical dusk gradient
	for y := 0; y < h; y++ {
		t := float64(y) / float64(h)
		r := uint8(30 + 60*t)
		g := uint8(20 + 30*t)
		b := uint8(80 + 120*t)
		for x := 0; x < w; x++ {
			rgba.Set(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	// Scatter stars so rotation is visually detectable
	for i := 0; i < w*h/90; i++ {
		x := rand.Intn(w)
		y := rand.Intn(h)
		lum := uint8(160 + rand.Intn(95))
		rgba.Set(x, y, color.RGBA{R: lum, G: lum, B: lum, A: 255})
	}
	// A couple of translucent bands for orientation cues
	drawBand(rgba, 0, h/5, w, h/24, color.RGBA{R: 255, G: 255, B: 255, A: 28})
	drawBand(rgba, w/4, 2*h/3, w/2, h/16, color.RGBA{R: 255, G: 200, B: 80, A: 36})
	return rgba
}

func drawBand(dst *image.RGBA, x, y, w, h int, c color.RGBA) {
	rect := image.Rect(x, y, x+w, y+h)
	draw.Draw(dst, rect, &image.Uniform{C: c}, image.Point{}, draw.Over)
}

// MockChallengeService implements ChallengeService for testing
type MockChallengeService struct {
	GenerateErr   error
	VerifyResult  bool
	GeneratedIDs  []string
	VerifiedCalls []string
}

// NewMockChallengeService creates a mock whose Verify always returns verifyResult
func NewMockChallengeService(verifyResult bool) *MockChallengeService {
	return &MockChallengeService{
		VerifyResult:  verifyResult,
		GeneratedIDs:  make([]string, 0),
		VerifiedCalls: make([]string, 0),
	}
}

func (m *MockChallengeService) Generate(ctx context.Context) (*Challenge, error) {
	if m.GenerateErr != nil {
		return nil, m.GenerateErr
	}
	id := uuid.New().String()
	m.GeneratedIDs = append(m.GeneratedIDs, id)
	return &Challenge{
		ID:                id,
		MasterImageBase64: "data:image/png;base64,bWFzdGVy",
		ThumbImageBase64:  "data:image/png;base64,dGh1bWI=",
	}, nil
}

func (m *MockChallengeService) Verify(ctx context.Context, challengeID string, userAngle float64) bool {
	m.VerifiedCalls = append(m.VerifiedCalls, challengeID)
	return m.VerifyResult
}
