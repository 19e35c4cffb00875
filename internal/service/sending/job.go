package sending

import "github.com/ignite/wa-dispatch/internal/domain"

// SendJob is the send-queue payload. The message row is the source of
// truth; the job only names it.
type SendJob struct {
	MessageID  string `json:"message_id"`
	TenantID   string `json:"tenant_id"`
	CampaignID string `json:"campaign_id,omitempty"`
}

// JobFor builds the job of a persisted message.
func JobFor(m *domain.Message) SendJob {
	j := SendJob{MessageID: m.ID, TenantID: m.TenantID}
	if m.CampaignID != nil {
		j.CampaignID = *m.CampaignID
	}
	return j
}
