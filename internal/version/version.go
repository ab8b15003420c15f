// Package version carries the build version and the startup update check.
package version

import (
	"context"
	"fmt"
	"net/http"

	goversion "github.com/hashicorp/go-version"
	"github.com/nulzo/model-playground/internal/httpclient"
)

// Version is overridden at build time with -ldflags "-X .../internal/version.Version=v1.2.3".
var Version = "v0.0.0"

type release struct {
	TagName string `json:"tag_name"`
}

// Update describes the outcome of an update check.
type Update struct {
	Current   string
	Latest    string
	Available bool
}

// CheckForUpdates fetches the latest release from url (a GitHub "releases/latest"
// style endpoint) and compares its tag against current.
func CheckForUpdates(ctx context.Context, client httpclient.HTTPClient, url, current string) (Update, error) {
	var rel release
	headers := map[string]string{"Accept": "application/vnd.github+json"}
	if err := httpclient.SendRequest(ctx, client, http.MethodGet, url, headers, nil, &rel); err != nil {
		return Update{}, err
	}

	cur, err := goversion.NewVersion(current)
	if err != nil {
		return Update{}, fmt.Errorf("invalid current version %q: %w", current, err)
	}
	latest, err := goversion.NewVersion(rel.TagName)
	if err != nil {
		return Update{}, fmt.Errorf("invalid release tag %q: %w", rel.TagName, err)
	}

	return Update{
		Current:   cur.Original(),
		Latest:    latest.Original(),
		Available: cur.LessThan(latest),
	}, nil
}
