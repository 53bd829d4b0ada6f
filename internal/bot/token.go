package bot

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"eventsbot/internal/data"
)

// TicketToken encodes a ticket as the URI consumed by the external QR
// scanner: ticket://<id>?datetime=<iso8601>&name=<escaped>&members=<n>.
func TicketToken(ticket *data.Ticket, event *data.Event) string {
	return fmt.Sprintf("ticket://%s?datetime=%s&name=%s&members=%d",
		ticket.ID(),
		event.Datetime().Format(time.RFC3339),
		percentEscape(event.Name()),
		ticket.Members(),
	)
}

// percentEscape query-escapes s with spaces as %20 rather than '+'.
func percentEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
