package gmailclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/api/gmail/v1"
)

const emailInterval = 3 * time.Second

const inviteSubject = "You've been invited to join a volunteer shift"

// SendInvite sends an invitation email carrying the join link.
// Throttles requests to respect Gmail API rate limits.
func (c *Client) SendInvite(_ context.Context, to, link string) error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	if !c.lastSendTime.IsZero() {
		elapsed := time.Since(c.lastSendTime)
		if elapsed < emailInterval {
			time.Sleep(emailInterval - elapsed)
		}
	}

	body := fmt.Sprintf(
		"Hello,\n\nYou've been invited to join a volunteer shift.\n\n"+
			"Follow this link to accept or decline:\n%s\n\n"+
			"The link is personal to you and expires, so please respond soon.\n",
		link)

	headers := fmt.Sprintf("To: %s\r\nSubject: %s\r\n", to, inviteSubject)
	if c.sender != "" {
		headers = fmt.Sprintf("From: %s\r\n%s", c.sender, headers)
	}
	message := headers + "\r\n" + body

	gmailMessage := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(message)),
	}

	if _, err := c.service.Users.Messages.Send(c.userID, gmailMessage).Do(); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	c.lastSendTime = time.Now()
	return nil
}
