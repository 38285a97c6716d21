package logging

import "log/slog"

// Common field names for consistent logging across the bridge.
const (
	FieldService     = "service"
	FieldRequestID   = "request_id"
	FieldCRMID       = "crm_id"
	FieldRequestType = "request_type"
	FieldJamfProID   = "jamf_pro_id"
	FieldIP          = "ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatus      = "status"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// RequestID returns a slog attribute for the change request ID.
func RequestID(id string) slog.Attr {
	return slog.String(FieldRequestID, id)
}

// CRMID returns a slog attribute for the CRM tenant identifier.
func CRMID(id string) slog.Attr {
	return slog.String(FieldCRMID, id)
}

// RequestType returns a slog attribute for the change request type.
func RequestType(t string) slog.Attr {
	return slog.String(FieldRequestType, t)
}

// JamfProID returns a slog attribute for the Jamf Pro computer ID.
func JamfProID(id string) slog.Attr {
	return slog.String(FieldJamfProID, id)
}

// IP returns a slog attribute for the IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
