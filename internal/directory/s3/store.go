package s3

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"charging-kiosk/internal/directory"
	"charging-kiosk/internal/domain"
)

var sheetHeader = []string{"id", "name", "cardId", "balance", "phoneNumber", "createdAt"}

// Store keeps the user roster as a CSV sheet object in S3 (or compatible
// APIs). The sheet is small; reads and writes move the whole object.
type Store struct {
	client *s3.Client
	bucket string
	key    string
}

func NewStore(client *s3.Client, bucket, key string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	if key == "" {
		return nil, fmt.Errorf("storage key is required")
	}
	return &Store{client: client, bucket: bucket, key: key}, nil
}

func (s *Store) FetchAll(ctx context.Context) ([]domain.User, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			// sheet not created yet, empty roster
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get sheet: %v", directory.ErrUnavailable, err)
	}
	defer out.Body.Close()

	users, err := parseSheet(out.Body)
	if err != nil {
		return nil, fmt.Errorf("parse sheet %s: %w", s.key, err)
	}
	return users, nil
}

func (s *Store) WriteBalance(ctx context.Context, cardID string, balance float64) error {
	users, err := s.FetchAll(ctx)
	if err != nil {
		return err
	}

	found := false
	for i := range users {
		if users[i].CardID == cardID {
			users[i].Balance = balance
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no user with card %s", cardID)
	}

	return s.putSheet(ctx, users)
}

func (s *Store) Provision(ctx context.Context, user domain.User) error {
	users, err := s.FetchAll(ctx)
	if err != nil {
		return err
	}
	for i := range users {
		if users[i].ID == user.ID || (user.CardID != "" && users[i].CardID == user.CardID) {
			return fmt.Errorf("user already exists")
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	users = append(users, user)
	return s.putSheet(ctx, users)
}

func (s *Store) putSheet(ctx context.Context, users []domain.User) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(sheetHeader); err != nil {
		return fmt.Errorf("write sheet header: %w", err)
	}
	for _, u := range users {
		record := []string{
			u.ID,
			u.Name,
			u.CardID,
			strconv.FormatFloat(u.Balance, 'f', -1, 64),
			u.PhoneNumber,
			u.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write sheet row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("%w: put sheet: %v", directory.ErrUnavailable, err)
	}
	return nil
}

func parseSheet(r io.Reader) ([]domain.User, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(sheetHeader)

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	var users []domain.User
	for i, record := range records {
		if i == 0 && record[0] == sheetHeader[0] {
			continue
		}
		balance, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad balance %q: %w", i+1, record[3], err)
		}
		createdAt, err := time.Parse(time.RFC3339, record[5])
		if err != nil {
			return nil, fmt.Errorf("row %d: bad createdAt %q: %w", i+1, record[5], err)
		}
		users = append(users, domain.User{
			ID:          record[0],
			Name:        record[1],
			CardID:      record[2],
			Balance:     balance,
			PhoneNumber: record[4],
			CreatedAt:   createdAt,
		})
	}
	return users, nil
}

var (
	_ directory.Store       = (*Store)(nil)
	_ directory.Provisioner = (*Store)(nil)
)
