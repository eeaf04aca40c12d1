package config

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureMongoIndexes() error {
	if MongoClient == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}
	db := MongoDatabase()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessions := db.Collection("sessions")
	_, err := sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_session_id").
				SetUnique(true),
		},
		// history listing
		{
			Keys:    bson.D{{Key: "participants.user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("by_participant_created"),
		},
		// group discovery filter
		{
			Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "is_private", Value: 1}, {Key: "region", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("by_discovery"),
		},
		// join-code lookup; sparse since only group chats carry one
		{
			Keys: bson.D{{Key: "group.join_code", Value: 1}},
			Options: options.Index().
				SetName("uniq_join_code").
				SetUnique(true).
				SetSparse(true),
		},
		// stale scheduled sweep
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("by_status_created"),
		},
	})
	return err
}
