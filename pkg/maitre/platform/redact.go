package platform

// RedactPhone masks a phone number for logs and diagnostics, keeping only
// the last four digits. Short or empty inputs are fully masked.
func RedactPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	masked := make([]byte, len(phone)-4)
	for i := range masked {
		masked[i] = '*'
	}
	return string(masked) + phone[len(phone)-4:]
}
