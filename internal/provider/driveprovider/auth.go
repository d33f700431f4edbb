package driveprovider

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// NewService builds an authenticated Drive client from a service
// account credentials file at credentialsPath, scoped read-only. This
// covers the common unattended deployment case; an interactive
// installed-app OAuth flow (the original project's other supported
// auth mode) is out of scope for a headless server process.
func NewService(ctx context.Context, credentialsPath string) (*drive.Service, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("driveprovider: read credentials %q: %w", credentialsPath, err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("driveprovider: parse credentials: %w", err)
	}
	svc, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("driveprovider: build drive client: %w", err)
	}
	return svc, nil
}
