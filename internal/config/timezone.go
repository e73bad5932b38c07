package config

import (
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
)

// DefaultAdminTimezone is used when ADMIN_INPUT_TIMEZONE is unset or invalid
const DefaultAdminTimezone = "Asia/Karachi"

// ResolveAdminTimezone loads the IANA zone admins enter window times in.
// An invalid name is logged and replaced by DefaultAdminTimezone.
func ResolveAdminTimezone(raw string, logger *logrus.Logger) *time.Location {
	name := strings.TrimSpace(raw)
	if name == "" {
		name = DefaultAdminTimezone
	}

	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc
	}

	logger.WithError(err).WithFields(logrus.Fields{
		"timezone": name,
		"fallback": DefaultAdminTimezone,
	}).Warn("Invalid ADMIN_INPUT_TIMEZONE, using fallback")

	loc, err = time.LoadLocation(DefaultAdminTimezone)
	if err != nil {
		// tzdata missing entirely; Karachi has no DST
		return time.FixedZone(DefaultAdminTimezone, 5*60*60)
	}
	return loc
}
