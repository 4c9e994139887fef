package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/service"
)

type NotificationService interface {
	Submit(ctx context.Context, t domain.NotificationType, records []domain.NotificationRecord, applicationName string) ([]domain.NotificationRecord, error)
	Get(ctx context.Context, t domain.NotificationType, ids []string, applicationName string) ([]domain.NotificationRecord, error)
	GetOne(ctx context.Context, t domain.NotificationType, id string, applicationName string) (domain.NotificationRecord, error)
	ApplyStatusChanges(ctx context.Context, t domain.NotificationType, changes []service.StatusChange) ([]domain.NotificationRecord, error)
	Resend(ctx context.Context, t domain.NotificationType, ids []string, applicationName string) ([]domain.NotificationRecord, error)
	QueryHistory(ctx context.Context, req domain.ReportRequest) ([]domain.NotificationRecord, string, error)
	PendingOrFailed(
		ctx context.Context,
		t domain.NotificationType,
		dateRange domain.DateRange,
		applicationName string,
		statuses []domain.Status,
		loadBody bool,
	) ([]domain.NotificationRecord, error)
}

var _ NotificationService = (*service.NotificationService)(nil)

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1/:type")
	v1.Post("/notifications", h.SubmitNotifications)
	v1.Get("/notifications", h.GetNotifications)
	v1.Put("/notifications", h.UpdateStatus)
	v1.Post("/notifications/resend", h.ResendNotifications)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/reports/history", h.QueryHistory)
	v1.Post("/reports/pending", h.PendingOrFailed)

	return nil
}

type notificationRequest struct {
	NotificationID    string     `json:"notificationId"`
	Application       string     `json:"application"`
	TrackingID        string     `json:"trackingId"`
	Subject           string     `json:"subject"`
	To                []string   `json:"to"`
	CC                []string   `json:"cc"`
	BCC               []string   `json:"bcc"`
	From              string     `json:"from"`
	ReplyTo           string     `json:"replyTo"`
	TemplateID        string     `json:"templateId"`
	Body              *string    `json:"body"`
	Location          string     `json:"location"`
	MeetingStart      *time.Time `json:"meetingStart"`
	MeetingEnd        *time.Time `json:"meetingEnd"`
	RecurrencePattern string     `json:"recurrencePattern"`
	IsAllDay          bool       `json:"isAllDay"`
	SendOnUtcDate     *time.Time `json:"sendOnUtcDate"`
	Priority          string     `json:"priority"`
	Sensitivity       string     `json:"sensitivity"`
}

type submitRequest struct {
	Notifications []notificationRequest `json:"notifications"`
}

type statusChangeRequest struct {
	NotificationID   string  `json:"notificationId"`
	Status           string  `json:"status"`
	ErrorMessage     *string `json:"errorMessage"`
	EmailAccountUsed *string `json:"emailAccountUsed"`
}

type updateStatusRequest struct {
	Updates []statusChangeRequest `json:"updates"`
}

type resendRequest struct {
	IDs         []string `json:"ids"`
	Application string   `json:"application"`
}

type historyRequest struct {
	Applications         []string `json:"applications"`
	Accounts             []string `json:"accounts"`
	NotificationIDs      []string `json:"notificationIds"`
	TrackingIDs          []string `json:"trackingIds"`
	Statuses             []int    `json:"statuses"`
	CreatedDateTimeStart string   `json:"createdDateTimeStart"`
	CreatedDateTimeEnd   string   `json:"createdDateTimeEnd"`
	SendOnUtcDateStart   string   `json:"sendOnUtcDateStart"`
	SendOnUtcDateEnd     string   `json:"sendOnUtcDateEnd"`
	UpdatedDateTimeStart string   `json:"updatedDateTimeStart"`
	UpdatedDateTimeEnd   string   `json:"updatedDateTimeEnd"`
	Take                 int      `json:"take"`
	Token                string   `json:"token"`
}

type pendingRequest struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Application string    `json:"application"`
	Statuses    []string  `json:"statuses"`
	LoadBody    bool      `json:"loadBody"`
}

type notificationResponse struct {
	NotificationID    string     `json:"notificationId"`
	Application       string     `json:"application"`
	TrackingID        string     `json:"trackingId,omitempty"`
	Type              string     `json:"type"`
	Subject           string     `json:"subject"`
	To                []string   `json:"to,omitempty"`
	CC                []string   `json:"cc,omitempty"`
	BCC               []string   `json:"bcc,omitempty"`
	From              string     `json:"from,omitempty"`
	ReplyTo           string     `json:"replyTo,omitempty"`
	TemplateID        string     `json:"templateId,omitempty"`
	Body              *string    `json:"body,omitempty"`
	BodyBlobName      string     `json:"bodyBlobName,omitempty"`
	Location          string     `json:"location,omitempty"`
	MeetingStart      *time.Time `json:"meetingStart,omitempty"`
	MeetingEnd        *time.Time `json:"meetingEnd,omitempty"`
	RecurrencePattern string     `json:"recurrencePattern,omitempty"`
	IsAllDay          bool       `json:"isAllDay,omitempty"`
	Status            string     `json:"status"`
	StatusCode        int        `json:"statusCode"`
	TryCount          int        `json:"tryCount"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
	SendOnUtcDate     time.Time  `json:"sendOnUtcDate"`
	EmailAccountUsed  *string    `json:"emailAccountUsed,omitempty"`
	Priority          string     `json:"priority"`
	Sensitivity       string     `json:"sensitivity"`
	CreatedDateTime   time.Time  `json:"createdDateTime"`
	LastModified      time.Time  `json:"lastModified"`
	ETag              string     `json:"etag,omitempty"`
}

type notificationsResponse struct {
	Notifications     []notificationResponse `json:"notifications"`
	ContinuationToken string                 `json:"continuationToken,omitempty"`
}

func (h *NotificationHandler) SubmitNotifications(c *fiber.Ctx) error {
	t, err := notificationType(c)
	if err != nil {
		return toHTTPError(err)
	}

	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Notifications) == 0 {
		return toHTTPError(fmt.Errorf("%w: notifications is required", domain.ErrValidation))
	}

	records := make([]domain.NotificationRecord, 0, len(req.Notifications))
	for _, item := range req.Notifications {
		r, err := requestToRecord(item, t)
		if err != nil {
			return toHTTPError(err)
		}
		records = append(records, r)
	}

	created, err := h.service.Submit(requestContext(c), t, records, c.Query("application"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(notificationsResponse{Notifications: toNotificationResponses(created)})
}

func (h *NotificationHandler) GetNotifications(c *fiber.Ctx) error {
	t, err := notificationType(c)
	if err != nil {
		return toHTTPError(err)
	}

	records, err := h.service.Get(requestContext(c), t, splitList(c.Query("ids")), c.Query("application"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(notificationsResponse{Notifications: toNotificationResponses(records)})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	t, err := notificationType(c)
	if err != nil {
		return toHTTPError(err)
	}

	record, err := h.service.GetOne(requestContext(c), t, strings.TrimSpace(c.Params("id")), c.Query("application"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(record))
}

func (h *NotificationHandler) UpdateStatus(c *fiber.Ctx) error {
	t, err := notificationType(c)
	if err != nil {
		return toHTTPError(err)
	}

	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	changes := make([]service.StatusChange, 0, len(req.Updates))
	for _, item := range req.Updates {
		status, err := domain.ParseStatusFromString(item.Status)
		if err != nil {
			return toHTTPError(err)
		}
		changes = append(changes, service.StatusChange{
			NotificationID:   strings.TrimSpace(item.NotificationID),
			Status:           status,
			ErrorMessage:     item.ErrorMessage,
			EmailAccountUsed: item.EmailAccountUsed,
		})
	}

	updated, err := h.service.ApplyStatusChanges(requestContext(c), t, changes)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(notificationsResponse{Notifications: toNotificationResponses(updated)})
}

func (h *NotificationHandler) ResendNotifications(c *fiber.Ctx) error {
	t, err := notificationType(c)
	if err != nil {
		return toHTTPError(err)
	}

	var req resendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	resent, err := h.service.Resend(requestContext(c), t, req.IDs, req.Application)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(notificationsResponse{Notifications: toNotificationResponses(resent)})
}

func (h *NotificationHandler) QueryHistory(c *fiber.Ctx) error {
	t, err := notificationType(c)
	if err != nil {
		return toHTTPError(err)
	}

	var req historyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Take < 0 {
		return toHTTPError(fmt.Errorf("%w: take must not be negative", domain.ErrValidation))
	}

	records, token, err := h.service.QueryHistory(requestContext(c), domain.ReportRequest{
		Type:                 t,
		Applications:         req.Applications,
		Accounts:             req.Accounts,
		NotificationIDs:      req.NotificationIDs,
		TrackingIDs:          req.TrackingIDs,
		Statuses:             req.Statuses,
		CreatedDateTimeStart: req.CreatedDateTimeStart,
		CreatedDateTimeEnd:   req.CreatedDateTimeEnd,
		SendOnUtcDateStart:   req.SendOnUtcDateStart,
		SendOnUtcDateEnd:     req.SendOnUtcDateEnd,
		UpdatedDateTimeStart: req.UpdatedDateTimeStart,
		UpdatedDateTimeEnd:   req.UpdatedDateTimeEnd,
		Take:                 req.Take,
		Token:                req.Token,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(notificationsResponse{
		Notifications:     toNotificationResponses(records),
		ContinuationToken: token,
	})
}

func (h *NotificationHandler) PendingOrFailed(c *fiber.Ctx) error {
	t, err := notificationType(c)
	if err != nil {
		return toHTTPError(err)
	}

	var req pendingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	statuses := make([]domain.Status, 0, len(req.Statuses))
	for _, raw := range req.Statuses {
		status, err := domain.ParseStatusFromString(raw)
		if err != nil {
			return toHTTPError(err)
		}
		statuses = append(statuses, status)
	}

	records, err := h.service.PendingOrFailed(
		requestContext(c),
		t,
		domain.DateRange{Start: req.Start, End: req.End},
		req.Application,
		statuses,
		req.LoadBody,
	)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(notificationsResponse{Notifications: toNotificationResponses(records)})
}

func notificationType(c *fiber.Ctx) (domain.NotificationType, error) {
	return domain.ParseNotificationTypeFromString(c.Params("type"))
}

func requestToRecord(req notificationRequest, t domain.NotificationType) (domain.NotificationRecord, error) {
	r := domain.NotificationRecord{
		NotificationID:    strings.TrimSpace(req.NotificationID),
		Application:       strings.TrimSpace(req.Application),
		TrackingID:        strings.TrimSpace(req.TrackingID),
		Type:              t,
		Subject:           strings.TrimSpace(req.Subject),
		To:                trimAll(req.To),
		CC:                trimAll(req.CC),
		BCC:               trimAll(req.BCC),
		From:              strings.TrimSpace(req.From),
		ReplyTo:           strings.TrimSpace(req.ReplyTo),
		TemplateID:        strings.TrimSpace(req.TemplateID),
		Body:              req.Body,
		Location:          strings.TrimSpace(req.Location),
		MeetingStart:      req.MeetingStart,
		MeetingEnd:        req.MeetingEnd,
		RecurrencePattern: strings.TrimSpace(req.RecurrencePattern),
		IsAllDay:          req.IsAllDay,
		Status:            domain.StatusQueued,
	}
	if req.SendOnUtcDate != nil {
		r.SendOnUtcDate = req.SendOnUtcDate.UTC()
	}

	if strings.TrimSpace(req.Priority) != "" {
		priority, err := domain.ParsePriorityFromString(req.Priority)
		if err != nil {
			return domain.NotificationRecord{}, err
		}
		r.Priority = priority
	}
	if strings.TrimSpace(req.Sensitivity) != "" {
		sensitivity, err := domain.ParseSensitivityFromString(req.Sensitivity)
		if err != nil {
			return domain.NotificationRecord{}, err
		}
		r.Sensitivity = sensitivity
	}

	return r, nil
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := requestCorrelationID(c); id != "" {
		ctx = observability.WithCorrelationID(ctx, id)
	}
	if app := strings.TrimSpace(c.Query("application")); app != "" {
		ctx = observability.WithApplication(ctx, app)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func toNotificationResponses(records []domain.NotificationRecord) []notificationResponse {
	responses := make([]notificationResponse, 0, len(records))
	for _, r := range records {
		responses = append(responses, toNotificationResponse(r))
	}
	return responses
}

func toNotificationResponse(r domain.NotificationRecord) notificationResponse {
	return notificationResponse{
		NotificationID:    r.NotificationID,
		Application:       r.Application,
		TrackingID:        r.TrackingID,
		Type:              r.Type.String(),
		Subject:           r.Subject,
		To:                r.To,
		CC:                r.CC,
		BCC:               r.BCC,
		From:              r.From,
		ReplyTo:           r.ReplyTo,
		TemplateID:        r.TemplateID,
		Body:              r.Body,
		BodyBlobName:      r.BodyBlobName,
		Location:          r.Location,
		MeetingStart:      r.MeetingStart,
		MeetingEnd:        r.MeetingEnd,
		RecurrencePattern: r.RecurrencePattern,
		IsAllDay:          r.IsAllDay,
		Status:            r.Status.String(),
		StatusCode:        int(r.Status),
		TryCount:          r.TryCount,
		ErrorMessage:      r.ErrorMessage,
		SendOnUtcDate:     r.SendOnUtcDate,
		EmailAccountUsed:  r.EmailAccountUsed,
		Priority:          r.Priority.String(),
		Sensitivity:       r.Sensitivity.String(),
		CreatedDateTime:   r.CreatedDateTime,
		LastModified:      r.Timestamp,
		ETag:              r.ETag,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
