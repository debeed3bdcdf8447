// Package cmd holds helpers shared by the binaries under cmd/.
package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/nulzo/inference-gateway/internal/cli"
	"github.com/nulzo/inference-gateway/internal/httpclient"
	"go.uber.org/zap"
)

// AppVersion is overridden at build time with -ldflags "-X".
var AppVersion = "v0.0.0"

const LatestReleaseURL = "https://api.github.com/repos/nulzo/inference-gateway/releases/latest"

type GitHubRelease struct {
	TagName string `json:"tag_name"`
}

// CheckForUpdates reports the latest published release and whether AppVersion is older.
func CheckForUpdates(ctx context.Context, client httpclient.HTTPClient, url string) (string, bool, error) {
	var release GitHubRelease
	headers := map[string]string{"Accept": "application/vnd.github+json"}
	if err := httpclient.SendRequest(ctx, client, http.MethodGet, url, headers, nil, &release); err != nil {
		return "", false, err
	}

	current, err := version.NewVersion(AppVersion)
	if err != nil {
		return "", false, err
	}
	latest, err := version.NewVersion(release.TagName)
	if err != nil {
		return "", false, err
	}
	return release.TagName, current.LessThan(latest), nil
}

// WarnIfOutdated logs a warning when a newer release exists. Failures are only logged at debug.
func WarnIfOutdated(ctx context.Context, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	latest, outdated, err := CheckForUpdates(ctx, http.DefaultClient, LatestReleaseURL)
	if err != nil {
		logger.Debug("update check failed", zap.Error(err))
		return
	}
	if outdated {
		logger.Warn(cli.WarningSign()+" running an outdated version",
			zap.String("current", AppVersion),
			zap.String("latest", latest))
	}
}
