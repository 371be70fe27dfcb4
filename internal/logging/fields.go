package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/krisalay/query-cache/types"
)

// BaseFields tags an entry point with its action and config file.
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// QueryFields describes a served query snapshot.
func QueryFields(snap types.Entry, requestID string) logrus.Fields {
	fields := logrus.Fields{
		"key":         snap.Key.String(),
		"status":      string(snap.Status),
		"is_fetching": snap.IsFetching,
		"request_id":  requestID,
	}
	if snap.Error != nil {
		fields["error"] = snap.Error.Error()
	}
	return fields
}
