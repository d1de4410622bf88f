package timezone

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/task"
)

const geolocationRetries = 3

// GeolocationTask asks a geolocation provider where the installer runs.
// The result is GeolocationData; an invalid timezone is replaced by the
// first timezone of the territory.
type GeolocationTask struct {
	provider string
	zones    *Zones
	client   *retryablehttp.Client
}

func NewGeolocationTask(provider string, timeout time.Duration, zones *Zones) *GeolocationTask {
	return &GeolocationTask{
		provider: provider,
		zones:    zones,
		client:   common.NewRetryableClient("geolocation", geolocationRetries, timeout),
	}
}

func (t *GeolocationTask) Name() string {
	return "Geolocate the system"
}

// providerResponse is the answer of a geoip city lookup.
type providerResponse struct {
	CountryCode string `json:"country_code"`
	TimeZone    string `json:"time_zone"`
}

func (t *GeolocationTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	r.ReportProgress("Looking up the location")
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, t.provider, nil)
	if err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "invalid geolocation provider")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, installerrors.NonCritical("geolocation lookup failed: %s", common.RedactURLs(err.Error()))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, installerrors.NonCritical("geolocation lookup failed: %s", resp.Status)
	}

	var answer providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "invalid geolocation answer")
	}

	result := GeolocationData{Territory: answer.CountryCode, Timezone: answer.TimeZone}
	if !t.zones.IsValid(result.Timezone) {
		result.Timezone = ""
		if zones := t.zones.ForTerritory(result.Territory); len(zones) > 0 {
			result.Timezone = zones[0]
		}
		logrus.Debugf("geolocation timezone %q is not valid, using %q of territory %s",
			answer.TimeZone, result.Timezone, result.Territory)
	}
	r.ReportProgress(fmt.Sprintf("Located in %s", result.Territory))
	return result, nil
}
