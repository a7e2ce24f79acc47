// Package businessflow contains the core business logic and use cases for prediction workflows
package businessflow

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/Pythia/app/dto"
	"github.com/amirphl/Pythia/app/services"
	"github.com/amirphl/Pythia/models"
	"github.com/amirphl/Pythia/repository"
	"github.com/amirphl/Pythia/utils"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"
)

// adminAccountID identifies the single config-held operator account in tokens
// and audit rows.
const adminAccountID uint = 1

// AdminCredentials is the config-held operator account. There is exactly one;
// multi-admin management is out of scope for this service.
type AdminCredentials struct {
	Username     string
	PasswordHash string
}

// AdminFlow serves the operator surface: login, the live overview and the
// predictions export.
type AdminFlow interface {
	Login(ctx context.Context, req *dto.AdminLoginRequest, metadata *ClientMetadata) (*dto.AdminLoginResponse, error)
	Overview(ctx context.Context) (*dto.AdminOverviewResponse, error)
	// ExportPredictions builds an xlsx workbook of all stored predictions
	// plus a summary sheet, returning the filename and file bytes.
	ExportPredictions(ctx context.Context) (string, []byte, error)
}

// AdminFlowImpl implements the admin flow
type AdminFlowImpl struct {
	creds          AdminCredentials
	dailyLimit     int64
	tokenService   services.TokenService
	predictionRepo repository.PredictionRepository
	auditRepo      repository.SubmissionAuditRepository
	capacity       CapacityMonitor
	queue          SubmissionQueue
}

// NewAdminFlow creates a new admin flow with all dependencies
func NewAdminFlow(
	creds AdminCredentials,
	dailyLimit int64,
	tokenService services.TokenService,
	predictionRepo repository.PredictionRepository,
	auditRepo repository.SubmissionAuditRepository,
	capacity CapacityMonitor,
	queue SubmissionQueue,
) AdminFlow {
	return &AdminFlowImpl{
		creds:          creds,
		dailyLimit:     dailyLimit,
		tokenService:   tokenService,
		predictionRepo: predictionRepo,
		auditRepo:      auditRepo,
		capacity:       capacity,
		queue:          queue,
	}
}

func (af *AdminFlowImpl) Login(ctx context.Context, req *dto.AdminLoginRequest, metadata *ClientMetadata) (*dto.AdminLoginResponse, error) {
	if req == nil || len(req.Username) == 0 || len(req.Password) == 0 {
		return nil, NewBusinessError("ADMIN_LOGIN_VALIDATION_FAILED", "Admin login validation failed", ErrAdminIncorrectPassword)
	}

	if req.Username != af.creds.Username {
		_ = af.auditLogin(ctx, models.AuditActionAdminLoginFailed, "Admin login failed: unknown username", false)
		return nil, NewBusinessError("ADMIN_LOGIN_FAILED", "Invalid credentials", ErrAdminNotFound)
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(af.creds.PasswordHash), []byte(req.Password)); err != nil {
		_ = af.auditLogin(ctx, models.AuditActionAdminLoginFailed, "Admin login failed: incorrect password", false)
		return nil, NewBusinessError("ADMIN_LOGIN_FAILED", "Invalid credentials", ErrAdminIncorrectPassword)
	}

	accessToken, err := af.tokenService.GenerateAdminToken(adminAccountID)
	if err != nil {
		return nil, NewBusinessError("TOKEN_GENERATION_FAILED", "Failed to generate token", err)
	}

	_ = af.auditLogin(ctx, models.AuditActionAdminLoginSuccess, "Admin login succeeded", true)

	return &dto.AdminLoginResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   utils.AdminAccessTokenTTLSeconds,
	}, nil
}

func (af *AdminFlowImpl) Overview(ctx context.Context) (*dto.AdminOverviewResponse, error) {
	total, err := af.predictionRepo.Count(ctx, models.PredictionFilter{})
	if err != nil {
		return nil, NewBusinessError("ADMIN_OVERVIEW_FAILED", "Failed to count predictions", err)
	}

	// Queue depth is best-effort; a dark redis must not blank the overview.
	depth, err := af.queue.Depth(ctx)
	if err != nil {
		log.Printf("admin overview: queue depth unavailable: %v", err)
		depth = 0
	}

	resp := &dto.AdminOverviewResponse{
		PredictionCount: total,
		RequestsToday:   af.capacity.RequestsToday(ctx),
		DailyLimit:      af.dailyLimit,
		CapacityLevel:   string(af.capacity.CurrentLevel(ctx)),
		QueueDepth:      depth,
	}

	rows, err := af.predictionRepo.ListForAggregation(ctx)
	if err != nil {
		return nil, NewBusinessError("ADMIN_OVERVIEW_FAILED", "Failed to load predictions", err)
	}
	predictions := make([]WeightedPrediction, 0, len(rows))
	for _, row := range rows {
		predictions = append(predictions, WeightedPrediction{Date: row.PredictedDate.UTC(), Weight: row.Weight})
	}
	if median := WeightedMedian(predictions); median != nil {
		resp.Median = median.Format(DateLayout)
	}

	return resp, nil
}

func (af *AdminFlowImpl) ExportPredictions(ctx context.Context) (string, []byte, error) {
	rows, err := af.predictionRepo.ListForAggregation(ctx)
	if err != nil {
		return "", nil, NewBusinessError("EXPORT_FETCH_FAILED", "Failed to fetch predictions", err)
	}

	// Create workbook
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := sanitizeSheetName("Predictions")
	xl.SetSheetName(xl.GetSheetName(0), sheet)

	header := []string{"id", "identity_key", "predicted_date", "weight", "created_at", "updated_at"}
	_ = xl.SetSheetRow(sheet, "A1", &header)

	predictions := make([]WeightedPrediction, 0, len(rows))
	for ri, r := range rows {
		record := []string{
			strconv.FormatUint(uint64(r.ID), 10),
			r.IdentityKey,
			r.PredictedDate.UTC().Format(DateLayout),
			strconv.FormatFloat(r.Weight, 'f', 2, 64),
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.UpdatedAt.UTC().Format(time.RFC3339),
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, ri+2)
		_ = xl.SetSheetRow(sheet, cellRef, &record)

		predictions = append(predictions, WeightedPrediction{Date: r.PredictedDate.UTC(), Weight: r.Weight})
	}

	summary := sanitizeSheetName("Summary")
	_, _ = xl.NewSheet(summary)
	stats := ComputeStats(predictions)
	median := ""
	if stats.Median != nil {
		median = stats.Median.Format(DateLayout)
	}
	min, max := "", ""
	if stats.Count > 0 {
		min = stats.Min.Format(DateLayout)
		max = stats.Max.Format(DateLayout)
	}
	summaryRows := [][]string{
		{"total_predictions", strconv.Itoa(stats.Count)},
		{"weighted_median", median},
		{"earliest", min},
		{"latest", max},
		{"generated_at", utils.UTCNow().Format(time.RFC3339)},
	}
	for ri, record := range summaryRows {
		cellRef, _ := excelize.CoordinatesToCellName(1, ri+1)
		_ = xl.SetSheetRow(summary, cellRef, &record)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}

	desc := fmt.Sprintf("Export generated with %d predictions", len(rows))
	audit := &models.SubmissionAudit{
		Action:      models.AuditActionExportGenerated,
		Description: &desc,
		Success:     utils.ToPtr(true),
	}
	_ = af.auditRepo.Save(ctx, audit)

	filename := fmt.Sprintf("predictions_export_%s.xlsx", utils.UTCNow().Format("20060102_150405"))
	return filename, buf.Bytes(), nil
}

func sanitizeSheetName(name string) string {
	// Excel sheet names cannot contain: : \\ / ? * [ ] and must be <= 31 chars
	replacer := strings.NewReplacer(":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_")
	safe := replacer.Replace(name)
	return truncateSheetName(strings.TrimSpace(safe))
}

func truncateSheetName(name string) string {
	if len(name) > 31 {
		return name[:31]
	}
	if name == "" {
		return "Sheet"
	}
	return name
}

func (af *AdminFlowImpl) auditLogin(ctx context.Context, action, description string, success bool) error {
	audit := &models.SubmissionAudit{
		Action:      action,
		Description: &description,
		Success:     utils.ToPtr(success),
	}

	requestID := ctx.Value(RequestIDKey)
	if requestID != nil {
		requestIDStr, ok := requestID.(string)
		if ok {
			audit.RequestID = &requestIDStr
		}
	}

	return af.auditRepo.Save(ctx, audit)
}
