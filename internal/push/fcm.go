package push

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	fcm "google.golang.org/api/fcm/v1"
	"google.golang.org/api/option"
)

// FCMRegistrar checks device tokens against Firebase Cloud Messaging with
// a validate-only send, which fails for unknown or expired tokens.
type FCMRegistrar struct {
	project string
	service *fcm.Service
}

// NewFCMRegistrar authenticates with a service account key file.
func NewFCMRegistrar(ctx context.Context, projectID, credentialsFile string) (*FCMRegistrar, error) {
	if projectID == "" {
		return nil, errors.New("fcm: project id required")
	}
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("fcm: read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, fcm.FirebaseMessagingScope)
	if err != nil {
		return nil, fmt.Errorf("fcm: parse credentials: %w", err)
	}
	return NewFCMRegistrarWithOptions(ctx, projectID, option.WithTokenSource(creds.TokenSource))
}

// NewFCMRegistrarWithOptions builds the FCM client from explicit client
// options, e.g. an endpoint override in tests.
func NewFCMRegistrarWithOptions(ctx context.Context, projectID string, opts ...option.ClientOption) (*FCMRegistrar, error) {
	svc, err := fcm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("fcm: new service: %w", err)
	}
	return &FCMRegistrar{project: projectID, service: svc}, nil
}

// Register validates token without delivering anything to the device.
func (r *FCMRegistrar) Register(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("fcm: no device token")
	}
	req := &fcm.SendMessageRequest{
		ValidateOnly: true,
		Message: &fcm.Message{
			Token: token,
			Data:  map[string]string{"type": "auto-init"},
		},
	}
	if _, err := r.service.Projects.Messages.Send("projects/"+r.project, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("fcm: validate token: %w", err)
	}
	return nil
}
