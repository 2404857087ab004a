package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/baseleldalil/morsel/internal/messenger"
	"github.com/baseleldalil/morsel/internal/model"
)

// sqliteStore is the concrete Store backed by database/sql + the pure-Go
// modernc.org/sqlite driver (grounded on nevindra-oasis's direct use of
// the same driver as its application datastore).
type sqliteStore struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite database at path and ensures the
// schema exists.
func Open(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite writers must be serialized
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullTimeStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeStr(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// --- CampaignStore ---

func (s *sqliteStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	now := timeStr(c.CreatedAt)
	filename, contentType, size, data := attachmentColumns(c.Attachment)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (
			id, owner_id, name, description, status, total_contacts,
			messages_sent, messages_delivered, messages_failed, current_progress,
			created_at, updated_at, message_content, male_content, female_content,
			use_gender_templates, duplicate_mode, last_error, error_count,
			attachment_filename, attachment_content_type, attachment_size_bytes, attachment_data_base64
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.OwnerID, c.Name, c.Description, string(c.Status), c.TotalContacts,
		c.MessagesSent, c.MessagesDelivered, c.MessagesFailed, c.CurrentProgress,
		now, now, c.MessageContent, c.MaleContent, c.FemaleContent,
		boolToInt(c.UseGenderTemplates), string(c.DuplicateMode), c.LastError, c.ErrorCount,
		filename, contentType, size, data,
	)
	if err != nil {
		return fmt.Errorf("store: creating campaign: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// attachmentColumns flattens a Campaign's optional Attachment into the
// campaigns table's four attachment_* columns, zero-valued when nil.
func attachmentColumns(a *model.Attachment) (filename, contentType string, size int64, data string) {
	if a == nil {
		return "", "", 0, ""
	}
	return a.Filename, a.ContentType, a.SizeBytes, a.DataBase64
}

func scanCampaign(row interface {
	Scan(dest ...interface{}) error
}) (*model.Campaign, error) {
	var c model.Campaign
	var status, dupMode string
	var startedAt, pausedAt, stoppedAt, completedAt sql.NullString
	var createdAt, updatedAt string
	var useGender int
	var attachFilename, attachContentType, attachData string
	var attachSize int64
	if err := row.Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.Description, &status, &c.TotalContacts,
		&c.MessagesSent, &c.MessagesDelivered, &c.MessagesFailed, &c.CurrentProgress,
		&createdAt, &startedAt, &pausedAt, &stoppedAt, &completedAt, &updatedAt,
		&c.MessageContent, &c.MaleContent, &c.FemaleContent, &useGender,
		&dupMode, &c.LastError, &c.ErrorCount,
		&attachFilename, &attachContentType, &attachSize, &attachData,
	); err != nil {
		return nil, err
	}
	c.Status = model.CampaignStatus(status)
	c.DuplicateMode = model.DuplicateMode(dupMode)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	c.StartedAt = parseNullTime(startedAt)
	c.PausedAt = parseNullTime(pausedAt)
	c.StoppedAt = parseNullTime(stoppedAt)
	c.CompletedAt = parseNullTime(completedAt)
	c.UseGenderTemplates = useGender != 0
	if attachFilename != "" {
		c.Attachment = &model.Attachment{
			Filename:    attachFilename,
			ContentType: attachContentType,
			Kind:        model.ClassifyAttachmentKind(attachContentType),
			SizeBytes:   attachSize,
			DataBase64:  attachData,
		}
	}
	return &c, nil
}

const campaignColumns = `
	id, owner_id, name, description, status, total_contacts,
	messages_sent, messages_delivered, messages_failed, current_progress,
	created_at, started_at, paused_at, stopped_at, completed_at, updated_at,
	message_content, male_content, female_content, use_gender_templates,
	duplicate_mode, last_error, error_count,
	attachment_filename, attachment_content_type, attachment_size_bytes, attachment_data_base64`

func (s *sqliteStore) LoadCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading campaign: %w", err)
	}
	return c, nil
}

func (s *sqliteStore) UpdateCampaignStatus(ctx context.Context, id string, fromSet []model.CampaignStatus, to model.CampaignStatus, mutate func(*model.Campaign)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: loading campaign for CAS: %w", err)
	}

	allowed := false
	for _, f := range fromSet {
		if c.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return model.ErrInvalidTransition
	}

	c.Status = to
	c.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(c)
	}

	filename, contentType, size, data := attachmentColumns(c.Attachment)
	_, err = tx.ExecContext(ctx, `
		UPDATE campaigns SET
			status=?, total_contacts=?, messages_sent=?, messages_delivered=?,
			messages_failed=?, current_progress=?, started_at=?, paused_at=?,
			stopped_at=?, completed_at=?, updated_at=?, message_content=?,
			male_content=?, female_content=?, use_gender_templates=?,
			duplicate_mode=?, last_error=?, error_count=?,
			attachment_filename=?, attachment_content_type=?, attachment_size_bytes=?, attachment_data_base64=?
		WHERE id=?`,
		string(c.Status), c.TotalContacts, c.MessagesSent, c.MessagesDelivered,
		c.MessagesFailed, c.CurrentProgress, nullTimeStr(c.StartedAt), nullTimeStr(c.PausedAt),
		nullTimeStr(c.StoppedAt), nullTimeStr(c.CompletedAt), timeStr(c.UpdatedAt), c.MessageContent,
		c.MaleContent, c.FemaleContent, boolToInt(c.UseGenderTemplates),
		string(c.DuplicateMode), c.LastError, c.ErrorCount,
		filename, contentType, size, data, id,
	)
	if err != nil {
		return fmt.Errorf("store: updating campaign status: %w", err)
	}
	return tx.Commit()
}

func (s *sqliteStore) LinkContacts(ctx context.Context, campaignID string, contactIDs []string) error {
	if len(contactIDs) == 0 {
		return model.ErrNoValidContacts
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := timeStr(time.Now())
	for _, cid := range contactIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO workflow_entries (id, campaign_id, contact_id, status, added_at)
			VALUES (?,?,?,?,?)`,
			newEntryID(campaignID, cid), campaignID, cid, string(model.WorkflowNew), now,
		)
		if err != nil {
			return fmt.Errorf("store: linking contact %s: %w", cid, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE campaigns SET total_contacts=?, updated_at=? WHERE id=?`,
		len(contactIDs), timeStr(time.Now()), campaignID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) BumpCounters(ctx context.Context, id string, sentDelta, deliveredDelta, failedDelta, progressDelta int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET
			messages_sent = messages_sent + ?,
			messages_delivered = messages_delivered + ?,
			messages_failed = messages_failed + ?,
			current_progress = current_progress + ?,
			updated_at = ?
		WHERE id = ?`,
		sentDelta, deliveredDelta, failedDelta, progressDelta, timeStr(time.Now()), id)
	return err
}

// --- WorkflowStore ---

const entryColumns = `
	id, campaign_id, contact_id, status, added_at, processed_at, delivered_at,
	opened_at, clicked_at, retry_count, error_message, rendered_body, attachments`

func scanEntry(row interface{ Scan(dest ...interface{}) error }) (*model.WorkflowEntry, error) {
	var e model.WorkflowEntry
	var status string
	var addedAt string
	var processedAt, deliveredAt, openedAt, clickedAt sql.NullString
	var attachmentsJSON string
	if err := row.Scan(
		&e.ID, &e.CampaignID, &e.ContactID, &status, &addedAt, &processedAt, &deliveredAt,
		&openedAt, &clickedAt, &e.RetryCount, &e.ErrorMessage, &e.RenderedBody, &attachmentsJSON,
	); err != nil {
		return nil, err
	}
	e.Status = model.WorkflowStatus(status)
	e.AddedAt = parseTime(addedAt)
	e.ProcessedAt = parseNullTime(processedAt)
	e.DeliveredAt = parseNullTime(deliveredAt)
	e.OpenedAt = parseNullTime(openedAt)
	e.ClickedAt = parseNullTime(clickedAt)
	if attachmentsJSON != "" {
		_ = json.Unmarshal([]byte(attachmentsJSON), &e.Attachments)
	}
	return &e, nil
}

func newEntryID(campaignID, contactID string) string {
	return campaignID + ":" + contactID
}

func (s *sqliteStore) NextPendingBatch(ctx context.Context, campaignID string, limit int) ([]*model.WorkflowEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM workflow_entries
		WHERE campaign_id = ? AND status IN (?, ?)
		ORDER BY added_at ASC LIMIT ?`,
		campaignID, string(model.WorkflowNew), string(model.WorkflowPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.WorkflowEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ClaimEntry(ctx context.Context, entryID string) (*model.WorkflowEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM workflow_entries WHERE id = ?`, entryID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !e.Status.Eligible() {
		return nil, model.ErrConcurrentClaim
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE workflow_entries SET status=?, processed_at=?
		WHERE id=? AND status IN (?, ?)`,
		string(model.WorkflowProcessing), timeStr(time.Now()), entryID,
		string(model.WorkflowNew), string(model.WorkflowPending))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, model.ErrConcurrentClaim
	}
	e.Status = model.WorkflowProcessing
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *sqliteStore) SaveRenderedPayload(ctx context.Context, entryID string, body string, attachments []model.Attachment) error {
	b, err := json.Marshal(attachments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE workflow_entries SET rendered_body=?, attachments=? WHERE id=?`,
		body, string(b), entryID)
	return err
}

func (s *sqliteStore) FinalizeEntry(ctx context.Context, entryID string, outcome model.WorkflowStatus, errMessage string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var campaignID string
	var retryDelta int
	if outcome == model.WorkflowFailed {
		retryDelta = 1
	}
	row := tx.QueryRowContext(ctx, `SELECT campaign_id FROM workflow_entries WHERE id=? AND status=?`,
		entryID, string(model.WorkflowProcessing))
	if err := row.Scan(&campaignID); err == sql.ErrNoRows {
		return model.ErrConcurrentClaim
	} else if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE workflow_entries SET status=?, error_message=?, retry_count = retry_count + ?
		WHERE id=? AND status=?`,
		string(outcome), errMessage, retryDelta, entryID, string(model.WorkflowProcessing))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrConcurrentClaim
	}

	sentDelta, failedDelta := 0, 0
	if outcome == model.WorkflowSent {
		sentDelta = 1
	} else {
		failedDelta = 1
	}

	campaignRow := tx.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=?`, campaignID)
	campaign, err := scanCampaign(campaignRow)
	if err != nil {
		return fmt.Errorf("store: loading campaign %s for invariant check: %w", campaignID, err)
	}
	campaign.MessagesSent += sentDelta
	campaign.MessagesFailed += failedDelta
	campaign.CurrentProgress++
	if !campaign.Invariant() {
		return fmt.Errorf("store: finalize would violate campaign %s counter invariant", campaignID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET
			messages_sent = messages_sent + ?,
			messages_failed = messages_failed + ?,
			current_progress = current_progress + 1,
			updated_at = ?
		WHERE id = ?`,
		sentDelta, failedDelta, timeStr(time.Now()), campaignID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) MarkDelivered(ctx context.Context, entryID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var campaignID string
	row := tx.QueryRowContext(ctx, `SELECT campaign_id FROM workflow_entries WHERE id=? AND status=?`,
		entryID, string(model.WorkflowSent))
	if err := row.Scan(&campaignID); err == sql.ErrNoRows {
		return model.ErrConcurrentClaim
	} else if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE workflow_entries SET status=?, delivered_at=? WHERE id=?`,
		string(model.WorkflowDelivered), timeStr(time.Now()), entryID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE campaigns SET messages_delivered = messages_delivered + 1, updated_at=? WHERE id=?`,
		timeStr(time.Now()), campaignID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) RecoverOrphans(ctx context.Context, campaignID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_entries SET status=?, error_message=?, retry_count = retry_count + 1
		WHERE campaign_id=? AND status=?`,
		string(model.WorkflowFailed), "interrupted", campaignID, string(model.WorkflowProcessing))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE campaigns SET messages_failed = messages_failed + ?, current_progress = current_progress + ?, updated_at=?
			WHERE id=?`, n, n, timeStr(time.Now()), campaignID); err != nil {
			return int(n), err
		}
	}
	return int(n), nil
}

func (s *sqliteStore) ResendFailed(ctx context.Context, campaignID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_entries SET status=?, error_message='', processed_at=NULL
		WHERE campaign_id=? AND status=?`,
		string(model.WorkflowPending), campaignID, string(model.WorkflowFailed))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE campaigns SET messages_failed = messages_failed - ?, current_progress = current_progress - ?, updated_at=?
			WHERE id=?`, n, n, timeStr(time.Now()), campaignID); err != nil {
			return int(n), err
		}
	}
	return int(n), nil
}

func (s *sqliteStore) CountByStatus(ctx context.Context, campaignID string) (map[model.WorkflowStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM workflow_entries WHERE campaign_id=? GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[model.WorkflowStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[model.WorkflowStatus(status)] = n
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListEntries(ctx context.Context, campaignID string, status model.WorkflowStatus, offset, limit int) ([]*model.WorkflowEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM workflow_entries WHERE campaign_id=?`
	args := []interface{}{campaignID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY added_at ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.WorkflowEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- ContactStore ---

const contactColumns = `id, owner_id, first_name, arabic_name, english_name, formatted_phone, gender, is_selected, status`

func scanContact(row interface{ Scan(dest ...interface{}) error }) (*model.Contact, error) {
	var c model.Contact
	var gender, status string
	var selected int
	if err := row.Scan(&c.ID, &c.OwnerID, &c.FirstName, &c.ArabicName, &c.EnglishName,
		&c.FormattedPhone, &gender, &selected, &status); err != nil {
		return nil, err
	}
	c.Gender = model.Gender(gender)
	c.Status = model.WorkflowStatus(status)
	c.IsSelected = selected != 0
	return &c, nil
}

func (s *sqliteStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id=?`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) ListContacts(ctx context.Context, ids []string) ([]*model.Contact, error) {
	out := make([]*model.Contact, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetContact(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *sqliteStore) SampleContacts(ctx context.Context, ownerID string, n int) ([]*model.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE owner_id=? LIMIT ?`, ownerID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- DuplicateStore ---

func (s *sqliteStore) GetSentPhone(ctx context.Context, ownerID, phone string) (*model.SentPhoneRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner_id, phone, first_sent_at, last_sent_at, send_count, last_campaign_id, last_status
		FROM sent_phone_records WHERE owner_id=? AND phone=?`, ownerID, phone)
	var r model.SentPhoneRecord
	var first, last, status string
	if err := row.Scan(&r.OwnerID, &r.Phone, &first, &last, &r.SendCount, &r.LastCampaignID, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	r.FirstSentAt = parseTime(first)
	r.LastSentAt = parseTime(last)
	r.LastStatus = model.WorkflowStatus(status)
	return &r, nil
}

func (s *sqliteStore) UpsertSentPhone(ctx context.Context, ownerID, phone, campaignID string, status model.WorkflowStatus, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sent_phone_records (owner_id, phone, first_sent_at, last_sent_at, send_count, last_campaign_id, last_status)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(owner_id, phone) DO UPDATE SET
			last_sent_at = excluded.last_sent_at,
			send_count = send_count + 1,
			last_campaign_id = excluded.last_campaign_id,
			last_status = excluded.last_status`,
		ownerID, phone, timeStr(at), timeStr(at), campaignID, string(status))
	return err
}

func (s *sqliteStore) ForgetSentPhone(ctx context.Context, ownerID, phone string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sent_phone_records WHERE owner_id=? AND phone=?`, ownerID, phone)
	return err
}

// WasSentInCampaign expects phone already normalized (the dedupe Guard
// does this before calling). contacts.formatted_phone is stored however
// the external ingestion subsystem formatted it, so it is normalized here,
// in Go, before comparison rather than matched raw against the column.
func (s *sqliteStore) WasSentInCampaign(ctx context.Context, campaignID, phone string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.formatted_phone FROM workflow_entries we
		JOIN contacts c ON c.id = we.contact_id
		WHERE we.campaign_id=? AND we.status IN (?, ?)`,
		campaignID, string(model.WorkflowSent), string(model.WorkflowDelivered))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return false, err
		}
		if messenger.NormalizePhone(raw) == phone {
			return true, nil
		}
	}
	return false, rows.Err()
}
