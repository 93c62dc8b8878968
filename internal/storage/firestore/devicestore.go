package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

const (
	devicesCollection = "devices"
	tokensCollection  = "push_tokens"
)

// FirestoreStore implements dispatch.DeviceStore using Google Cloud Firestore.
//
// Two collections are kept in step inside transactions:
//
//	devices/{apiKey}            the device record
//	push_tokens/{sha256(token)} the uniqueness claim on a push token
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	ID           string    `firestore:"id"`
	PushToken    string    `firestore:"push_token"`
	APIKey       string    `firestore:"api_key"`
	DeviceInfo   string    `firestore:"device_info"`
	RegisteredAt time.Time `firestore:"registered_at"`
	UpdatedAt    time.Time `firestore:"updated_at"`
}

type tokenClaim struct {
	APIKey string `firestore:"api_key"`
}

func (s *FirestoreStore) InsertOrGet(ctx context.Context, dev notify.Device) (notify.Device, bool, error) {
	var (
		stored  notify.Device
		created bool
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false
		claimRef := s.tokenRef(dev.PushToken)
		snap, err := tx.Get(claimRef)
		switch {
		case err == nil:
			var claim tokenClaim
			if err := snap.DataTo(&claim); err != nil {
				return fmt.Errorf("decode token claim: %w", err)
			}
			existing, err := tx.Get(s.deviceRef(claim.APIKey))
			if err != nil {
				return fmt.Errorf("read claimed device: %w", err)
			}
			stored, err = decodeDevice(existing)
			return err
		case status.Code(err) != codes.NotFound:
			return fmt.Errorf("read token claim: %w", err)
		}

		record := deviceRecord{
			ID:           uuid.NewString(),
			PushToken:    dev.PushToken,
			APIKey:       dev.APIKey,
			DeviceInfo:   dev.DeviceInfo,
			RegisteredAt: dev.RegisteredAt,
			UpdatedAt:    dev.UpdatedAt,
		}
		// Create fails with AlreadyExists if the API key is somehow taken.
		if err := tx.Create(s.deviceRef(dev.APIKey), record); err != nil {
			return err
		}
		if err := tx.Create(claimRef, tokenClaim{APIKey: dev.APIKey}); err != nil {
			return err
		}
		stored = record.toDevice()
		created = true
		return nil
	})
	if err != nil {
		return notify.Device{}, false, fmt.Errorf("firestore: insert device: %w", err)
	}
	return stored, created, nil
}

func (s *FirestoreStore) FindByAPIKey(ctx context.Context, apiKey string) (notify.Device, error) {
	snap, err := s.deviceRef(apiKey).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return notify.Device{}, notify.ErrDeviceNotFound
		}
		return notify.Device{}, fmt.Errorf("firestore: get device: %w", err)
	}
	return decodeDevice(snap)
}

func (s *FirestoreStore) UpdateToken(ctx context.Context, apiKey, newPushToken string) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		devRef := s.deviceRef(apiKey)
		snap, err := tx.Get(devRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return notify.ErrDeviceNotFound
			}
			return err
		}
		current, err := decodeDevice(snap)
		if err != nil {
			return err
		}
		if current.PushToken == newPushToken {
			return tx.Update(devRef, []firestore.Update{{Path: "updated_at", Value: time.Now().UTC()}})
		}

		newClaim := s.tokenRef(newPushToken)
		if _, err := tx.Get(newClaim); err == nil {
			return notify.ErrPushTokenTaken
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		// All reads happen before the first write.
		if err := tx.Create(newClaim, tokenClaim{APIKey: apiKey}); err != nil {
			return err
		}
		if err := tx.Delete(s.tokenRef(current.PushToken)); err != nil {
			return err
		}
		return tx.Update(devRef, []firestore.Update{
			{Path: "push_token", Value: newPushToken},
			{Path: "updated_at", Value: time.Now().UTC()},
		})
	})
	if err != nil {
		if errors.Is(err, notify.ErrDeviceNotFound) || errors.Is(err, notify.ErrPushTokenTaken) {
			return err
		}
		return fmt.Errorf("firestore: update device token: %w", err)
	}
	return nil
}

// --- Helpers ---

func (r deviceRecord) toDevice() notify.Device {
	return notify.Device{
		ID:           r.ID,
		PushToken:    r.PushToken,
		APIKey:       r.APIKey,
		DeviceInfo:   r.DeviceInfo,
		RegisteredAt: r.RegisteredAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func decodeDevice(snap *firestore.DocumentSnapshot) (notify.Device, error) {
	var record deviceRecord
	if err := snap.DataTo(&record); err != nil {
		return notify.Device{}, fmt.Errorf("decode device: %w", err)
	}
	return record.toDevice(), nil
}

// deviceRef: devices/{apiKey}
func (s *FirestoreStore) deviceRef(apiKey string) *firestore.DocumentRef {
	return s.client.Collection(devicesCollection).Doc(apiKey)
}

// tokenRef: push_tokens/{sha256(token)}; hashing keeps doc IDs bounded and
// free of '/'.
func (s *FirestoreStore) tokenRef(token string) *firestore.DocumentRef {
	return s.client.Collection(tokensCollection).Doc(hashToken(token))
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
