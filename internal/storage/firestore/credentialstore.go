package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

const variantsCollection = "variants"

// CredentialStore implements push.CredentialRegistry using Google Cloud Firestore.
type CredentialStore struct {
	client *firestore.Client
}

func NewCredentialStore(client *firestore.Client) *CredentialStore {
	return &CredentialStore{client: client}
}

// variantRecord is the internal DB representation.
type variantRecord struct {
	Platform    string    `firestore:"platform"`
	Certificate []byte    `firestore:"certificate"`
	Passphrase  string    `firestore:"passphrase,omitempty"`
	Topic       string    `firestore:"topic,omitempty"`
	PublicKey   string    `firestore:"public_key,omitempty"`
	UpdatedAt   time.Time `firestore:"updated_at"`
}

func (s *CredentialStore) Credential(ctx context.Context, variantID string) (*push.Credential, error) {
	doc, err := s.client.Collection(variantsCollection).Doc(variantID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", push.ErrCredentialNotFound, variantID)
		}
		return nil, fmt.Errorf("failed to load variant %s: %w", variantID, err)
	}

	var record variantRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("corrupt variant record %s: %w", variantID, err)
	}
	platform, err := push.ParsePlatform(record.Platform)
	if err != nil {
		return nil, fmt.Errorf("corrupt variant record %s: %w", variantID, err)
	}

	return &push.Credential{
		VariantID:   variantID,
		Platform:    platform,
		Certificate: record.Certificate,
		Passphrase:  record.Passphrase,
		Topic:       record.Topic,
		PublicKey:   record.PublicKey,
	}, nil
}

func (s *CredentialStore) PutCredential(ctx context.Context, cred *push.Credential) error {
	if cred == nil || cred.VariantID == "" {
		return errors.New("credential needs a variant id")
	}
	record := variantRecord{
		Platform:    string(cred.Platform),
		Certificate: cred.Certificate,
		Passphrase:  cred.Passphrase,
		Topic:       cred.Topic,
		PublicKey:   cred.PublicKey,
		UpdatedAt:   time.Now().UTC(),
	}
	_, err := s.client.Collection(variantsCollection).Doc(cred.VariantID).Set(ctx, record)
	return err
}

// DeleteCredential is idempotent: removing a missing variant succeeds.
func (s *CredentialStore) DeleteCredential(ctx context.Context, variantID string) error {
	_, err := s.client.Collection(variantsCollection).Doc(variantID).Delete(ctx)
	return err
}

// VariantIDs lists every registered variant.
func (s *CredentialStore) VariantIDs(ctx context.Context) ([]string, error) {
	iter := s.client.Collection(variantsCollection).Documents(ctx)
	defer iter.Stop()

	ids := make([]string, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		ids = append(ids, doc.Ref.ID)
	}
	return ids, nil
}
