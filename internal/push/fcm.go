package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

// FCMConfig locates the Firebase project used for web push.
type FCMConfig struct {
	ProjectID       string
	CredentialsFile string
}

type multicastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMSender sends through Firebase Cloud Messaging.
type FCMSender struct {
	client multicastClient
	logger *zap.Logger
}

// NewFCMSender initialises the Firebase app and messaging client.
func NewFCMSender(ctx context.Context, cfg FCMConfig, logger *zap.Logger) (*FCMSender, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return &FCMSender{client: client, logger: logger}, nil
}

// Send implements Sender. A transport-level failure is TRANSIENT; per-token
// failures are counted, and unregistered tokens are returned for pruning.
func (s *FCMSender) Send(ctx context.Context, msg Message) (Result, error) {
	if len(msg.Tokens) == 0 {
		return Result{}, nil
	}
	if len(msg.Tokens) > MaxBatch {
		return Result{}, fmt.Errorf("batch of %d exceeds %d tokens", len(msg.Tokens), MaxBatch)
	}

	resp, err := s.client.SendEachForMulticast(ctx, buildMulticast(msg))
	if err != nil {
		return Result{}, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "push provider unavailable")
	}

	var res Result
	for i, r := range resp.Responses {
		if i >= len(msg.Tokens) {
			break
		}
		switch {
		case r.Success:
			res.Delivered++
		case messaging.IsUnregistered(r.Error):
			res.Unregistered = append(res.Unregistered, msg.Tokens[i])
		default:
			res.Failed++
			s.logger.Debug("push token send failed", zap.Error(r.Error))
		}
	}
	return res, nil
}

func buildMulticast(msg Message) *messaging.MulticastMessage {
	p := msg.Payload
	webpush := &messaging.WebpushConfig{
		Notification: &messaging.WebpushNotification{
			Title: p.Title,
			Body:  p.Body,
			Icon:  p.Icon,
			Tag:   p.Tag,
		},
	}
	if msg.Link != "" {
		webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: msg.Link}
	}
	return &messaging.MulticastMessage{
		Tokens: msg.Tokens,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Data: map[string]string{
			"id":    p.Data.ID,
			"url":   p.Data.URL,
			"title": p.Title,
			"body":  p.Body,
		},
		Webpush: webpush,
	}
}
