package timezone

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Zones knows the valid timezones and the timezones of each territory.
type Zones struct {
	dir         string
	zones       map[string]bool
	territories map[string][]string
}

// LoadZones reads zone.tab from the zoneinfo directory. A missing table is
// not an error: timezones are then checked against the zoneinfo files.
func LoadZones(dir string) *Zones {
	z := &Zones{
		dir:         dir,
		zones:       map[string]bool{},
		territories: map[string][]string{},
	}
	f, err := os.Open(filepath.Join(dir, "zone.tab"))
	if err != nil {
		logrus.Warnf("cannot read the timezone table: %v", err)
		return z
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		code, tz := fields[0], fields[2]
		z.zones[tz] = true
		z.territories[code] = append(z.territories[code], tz)
	}
	if err := scanner.Err(); err != nil {
		logrus.Warnf("cannot read the timezone table: %v", err)
	}
	return z
}

// IsValid reports whether tz names a known timezone. UTC and the Etc zones
// are always valid.
func (z *Zones) IsValid(tz string) bool {
	if tz == "" || strings.Contains(tz, "..") {
		return false
	}
	if tz == "UTC" || strings.HasPrefix(tz, "Etc/") {
		return true
	}
	if z.zones[tz] {
		return true
	}
	if len(z.zones) > 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(z.dir, tz))
	return err == nil && info.Mode().IsRegular()
}

// ForTerritory returns the timezones of a two letter territory code in
// table order.
func (z *Zones) ForTerritory(code string) []string {
	return z.territories[strings.ToUpper(code)]
}

// All returns the known timezones grouped by region, sorted.
func (z *Zones) All() map[string][]string {
	all := map[string][]string{}
	for tz := range z.zones {
		region, city, ok := strings.Cut(tz, "/")
		if !ok {
			continue
		}
		all[region] = append(all[region], city)
	}
	for _, cities := range all {
		sort.Strings(cities)
	}
	return all
}
