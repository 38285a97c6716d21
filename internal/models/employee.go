package models

// EmployeeRecord is the decrypted business payload: the employee and
// device data the CRM wants reflected in Jamf Pro.
type EmployeeRecord struct {
	EmployeeID string     `json:"employee_id"`
	Email      string     `json:"email"`
	FullName   string     `json:"full_name"`
	Department string     `json:"department,omitempty"`
	JamfProID  string     `json:"jamf_pro_id,omitempty"`
	Device     DeviceInfo `json:"device"`
}

// DeviceInfo describes the managed device tied to the employee.
type DeviceInfo struct {
	Serial    string `json:"serial"`
	Platform  string `json:"platform,omitempty"`
	OSVersion string `json:"os_version,omitempty"`
}

// Complete reports whether the record carries everything a create
// operation needs. Update/delete have weaker requirements (an id plus
// whatever fields changed).
func (r *EmployeeRecord) Complete() bool {
	return r.EmployeeID != "" && r.Email != "" && r.FullName != "" && r.Device.Serial != ""
}
