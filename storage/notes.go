package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// NoteAttachment links a note to a stored attachment file.
type NoteAttachment struct {
	Name     string
	StoredID string
}

// ReceivedNote is one persisted inbound note.
type ReceivedNote struct {
	NoteID      string
	Content     string
	SharedAt    string
	SenderName  string
	ReceivedAt  int64
	Attachments []NoteAttachment
}

// SaveNote persists an accepted note together with its attachment name
// mapping in one transaction.
func (s *Store) SaveNote(content, timestamp, senderName string, renames map[string]string) error {
	if timestamp == "" {
		return errors.New("timestamp is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin note transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	noteID := uuid.NewString()
	if _, err := tx.Exec(
		`INSERT INTO notes (
			note_id,
			content,
			shared_at,
			sender_name,
			received_at
		) VALUES (?, ?, ?, ?, ?)`,
		noteID,
		content,
		timestamp,
		senderName,
		nowUnixMilli(),
	); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}

	names := make([]string, 0, len(renames))
	for name := range renames {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := tx.Exec(
			`INSERT INTO note_attachments (note_id, name, stored_id)
			VALUES (?, ?, ?)`,
			noteID,
			name,
			renames[name],
		); err != nil {
			return fmt.Errorf("insert note attachment %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit note transaction: %w", err)
	}
	return nil
}

// GetNote fetches one note with its attachments.
func (s *Store) GetNote(noteID string) (*ReceivedNote, error) {
	row := s.db.QueryRow(
		`SELECT note_id, content, shared_at, sender_name, received_at
		FROM notes
		WHERE note_id = ?`,
		noteID,
	)

	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get note %q: %w", noteID, err)
	}

	attachments, err := s.noteAttachments(noteID)
	if err != nil {
		return nil, err
	}
	note.Attachments = attachments
	return note, nil
}

// ListNotes returns received notes newest first. A limit <= 0 returns all.
func (s *Store) ListNotes(limit int) ([]ReceivedNote, error) {
	query := `SELECT note_id, content, shared_at, sender_name, received_at
	FROM notes
	ORDER BY received_at DESC, note_id`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]ReceivedNote, 0)
	for rows.Next() {
		note, scanErr := scanNote(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan note row: %w", scanErr)
		}
		notes = append(notes, *note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate note rows: %w", err)
	}

	for i := range notes {
		attachments, err := s.noteAttachments(notes[i].NoteID)
		if err != nil {
			return nil, err
		}
		notes[i].Attachments = attachments
	}
	return notes, nil
}

// DeleteNote removes a note and returns the stored IDs of its attachments
// so the caller can delete the files as well.
func (s *Store) DeleteNote(noteID string) ([]string, error) {
	attachments, err := s.noteAttachments(noteID)
	if err != nil {
		return nil, err
	}

	res, err := s.db.Exec(`DELETE FROM notes WHERE note_id = ?`, noteID)
	if err != nil {
		return nil, fmt.Errorf("delete note %q: %w", noteID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("read rows affected for note %q: %w", noteID, err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	storedIDs := make([]string, 0, len(attachments))
	for _, attachment := range attachments {
		storedIDs = append(storedIDs, attachment.StoredID)
	}
	return storedIDs, nil
}

func (s *Store) noteAttachments(noteID string) ([]NoteAttachment, error) {
	rows, err := s.db.Query(
		`SELECT name, stored_id
		FROM note_attachments
		WHERE note_id = ?
		ORDER BY name`,
		noteID,
	)
	if err != nil {
		return nil, fmt.Errorf("list note attachments %q: %w", noteID, err)
	}
	defer rows.Close()

	attachments := make([]NoteAttachment, 0)
	for rows.Next() {
		var attachment NoteAttachment
		if err := rows.Scan(&attachment.Name, &attachment.StoredID); err != nil {
			return nil, fmt.Errorf("scan note attachment row: %w", err)
		}
		attachments = append(attachments, attachment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate note attachment rows: %w", err)
	}
	return attachments, nil
}

func scanNote(row scanner) (*ReceivedNote, error) {
	var note ReceivedNote
	if err := row.Scan(
		&note.NoteID,
		&note.Content,
		&note.SharedAt,
		&note.SenderName,
		&note.ReceivedAt,
	); err != nil {
		return nil, err
	}
	return &note, nil
}
