package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/solarpayback/pkg/log"
	"github.com/raterudder/solarpayback/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const sessionsCollection = "sessions"

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Each session is one document in the "sessions" collection.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project ID is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) sessionDoc(sessionID string) (*firestore.DocumentRef, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID cannot be empty")
	}
	return f.client.Collection(sessionsCollection).Doc(sessionID), nil
}

// GetSession reads the session stored as JSON in the "json" field.
func (f *FirestoreProvider) GetSession(ctx context.Context, sessionID string) (types.Session, error) {
	ref, err := f.sessionDoc(sessionID)
	if err != nil {
		return types.Session{}, err
	}
	doc, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Session{}, ErrSessionNotFound
		}
		return types.Session{}, fmt.Errorf("failed to fetch session doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "session doc missing json", slog.String("sessionID", sessionID))
		return types.Session{}, fmt.Errorf("session document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "session doc json not string", slog.String("sessionID", sessionID))
		return types.Session{}, fmt.Errorf("session 'json' field is not a string")
	}

	var s types.Session
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal session json", slog.String("sessionID", sessionID), slog.Any("err", err))
		return types.Session{}, fmt.Errorf("failed to unmarshal session json: %w", err)
	}
	if s.Expired(time.Now()) {
		return types.Session{}, ErrSessionNotFound
	}
	return s, nil
}

// PutSession saves the session as a JSON string. expiresAt is stored
// alongside so expired sessions can be queried.
func (f *FirestoreProvider) PutSession(ctx context.Context, session types.Session) error {
	ref, err := f.sessionDoc(session.ID)
	if err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	data := map[string]interface{}{
		"json":      string(jsonBytes),
		"updatedAt": session.UpdatedAt,
		// a null expiresAt never matches the expiry query
		"expiresAt": nil,
	}
	if !session.ExpiresAt.IsZero() {
		data["expiresAt"] = session.ExpiresAt
	}
	_, err = ref.Set(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// DeleteSession removes the session document. Deleting a missing session is
// not an error.
func (f *FirestoreProvider) DeleteSession(ctx context.Context, sessionID string) error {
	ref, err := f.sessionDoc(sessionID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions implements Database.
func (f *FirestoreProvider) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	iter := f.client.Collection(sessionsCollection).
		Where("expiresAt", "<=", now).
		Documents(ctx)
	defer iter.Stop()

	var n int
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return n, fmt.Errorf("failed to iterate expired sessions: %w", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return n, fmt.Errorf("failed to delete session %s: %w", doc.Ref.ID, err)
		}
		n++
	}
	return n, nil
}
