/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package httpapi

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseHumanDuration parses Go durations plus day suffixes (e.g. 30d, 90d),
// used by the audit-log retention sweep's ?older_than= query parameter.
func parseHumanDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("duration required")
	}

	if strings.HasSuffix(raw, "d") {
		daysPart := strings.TrimSuffix(raw, "d")
		days, err := strconv.ParseFloat(daysPart, 64)
		if err != nil || days < 0 {
			return 0, fmt.Errorf("invalid day duration")
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return d, nil
}
