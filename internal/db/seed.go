package db

import (
	"fmt"
	"time"
)

// Seed inserts count synthetic messages into a channel, spaced step apart
// starting at start. Authors rotate through authorIDs. Some messages carry a
// code block, an image attachment or a reaction so every layout shape shows up.
func (r *MessageRepository) Seed(channelID string, authorIDs []string, count int, start time.Time, step time.Duration) error {
	if len(authorIDs) == 0 {
		return fmt.Errorf("seeding channel %s: no authors", channelID)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for i := 0; i < count; i++ {
		id, err := GenerateID("msg")
		if err != nil {
			return fmt.Errorf("generating message ID: %w", err)
		}
		author := authorIDs[(i/3)%len(authorIDs)]
		content := fmt.Sprintf("Message %d", i+1)
		if i%7 == 3 {
			content += "\n```go\nfmt.Println(\"seed\")\n```"
		}

		_, err = tx.Exec(
			`INSERT INTO messages (id, channel_id, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, channelID, author, content, start.Add(time.Duration(i)*step).UTC(),
		)
		if err != nil {
			return fmt.Errorf("seeding message: %w", err)
		}

		if i%11 == 5 {
			attID, err := GenerateID("att")
			if err != nil {
				return fmt.Errorf("generating attachment ID: %w", err)
			}
			_, err = tx.Exec(
				`INSERT INTO attachments (id, message_id, name, mime_type, size, position) VALUES (?, ?, ?, ?, ?, 0)`,
				attID, id, fmt.Sprintf("screenshot-%d.png", i+1), "image/png", 48_000,
			)
			if err != nil {
				return fmt.Errorf("seeding attachment: %w", err)
			}
		}

		if i%13 == 7 {
			_, err = tx.Exec(
				`INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)`,
				id, authorIDs[0], ":+1:", start.UTC(),
			)
			if err != nil {
				return fmt.Errorf("seeding reaction: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing seed: %w", err)
	}
	return nil
}
