package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
)

// MongoStore persists conversations and messages in MongoDB. Multi-document
// writes run in transactions, so the server must be a replica set.
type MongoStore struct {
	client    *mongo.Client
	db        *mongo.Database
	convColl  *mongo.Collection
	msgColl   *mongo.Collection
	typeColl  *mongo.Collection
	userColl  *mongo.Collection
	opTimeout time.Duration
}

func NewMongoStore(ctx context.Context, client *mongo.Client, dbName string, opTimeout time.Duration) (*MongoStore, error) {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	db := client.Database(dbName)
	r := &MongoStore{
		client:    client,
		db:        db,
		convColl:  db.Collection("conversations"),
		msgColl:   db.Collection("messages"),
		typeColl:  db.Collection("typing_indicators"),
		userColl:  db.Collection("users"),
		opTimeout: opTimeout,
	}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *MongoStore) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := r.convColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "recruiter_id", Value: 1}, {Key: "job_seeker_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "job_seeker_id", Value: 1}, {Key: "last_message_at", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("conversation indexes: %w", err)
	}
	if _, err := r.msgColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "status", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	if _, err := r.typeColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("typing indexes: %w", err)
	}
	return nil
}

func unreadField(c domain.Conversation, userID string) string {
	if userID == c.RecruiterID {
		return "unread_by_recruiter"
	}
	return "unread_by_job_seeker"
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}
	return err
}

func (r *MongoStore) FindOrCreate(ctx context.Context, spec domain.ConversationSpec) (domain.Conversation, bool, error) {
	if err := checkSpec(spec); err != nil {
		return domain.Conversation{}, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	now := time.Now().UTC()
	filter := bson.M{"recruiter_id": spec.RecruiterID, "job_seeker_id": spec.JobSeekerID}
	doc := domain.Conversation{
		ID:            uuid.NewString(),
		RecruiterID:   spec.RecruiterID,
		JobSeekerID:   spec.JobSeekerID,
		JobID:         spec.JobID,
		ApplicationID: spec.ApplicationID,
		Subject:       spec.Subject,
		Metadata:      spec.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	res, err := r.convColl.UpdateOne(ctx, filter, bson.M{"$setOnInsert": doc}, options.Update().SetUpsert(true))
	created := err == nil && res.UpsertedCount == 1
	// two concurrent upserts can both miss and one loses on the unique index
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return domain.Conversation{}, false, fmt.Errorf("upsert conversation: %w", err)
	}
	var c domain.Conversation
	if err := r.convColl.FindOne(ctx, filter).Decode(&c); err != nil {
		return domain.Conversation{}, false, notFound(err)
	}
	return c, created, nil
}

func (r *MongoStore) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	var c domain.Conversation
	if err := r.convColl.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&c); err != nil {
		return domain.Conversation{}, notFound(err)
	}
	return c, nil
}

func participantFilter(userID string) bson.M {
	return bson.M{"$or": []bson.M{{"recruiter_id": userID}, {"job_seeker_id": userID}}}
}

func (r *MongoStore) ListConversations(ctx context.Context, userID string, archived bool) ([]domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	filter := participantFilter(userID)
	filter["is_archived"] = archived
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "created_at", Value: -1}})
	cur, err := r.convColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []domain.Conversation{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoStore) LinkApplication(ctx context.Context, conversationID, applicationID, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	set := bson.M{"updated_at": time.Now().UTC()}
	if applicationID != "" {
		set["application_id"] = applicationID
	}
	if jobID != "" {
		set["job_id"] = jobID
	}
	res, err := r.convColl.UpdateByID(ctx, conversationID, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoStore) SetFlags(ctx context.Context, conversationID string, flags domain.ConversationFlags) (domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	set := bson.M{"updated_at": time.Now().UTC()}
	if flags.IsArchived != nil {
		set["is_archived"] = *flags.IsArchived
	}
	if flags.IsPinned != nil {
		set["is_pinned"] = *flags.IsPinned
	}
	if flags.IsMuted != nil {
		set["is_muted"] = *flags.IsMuted
	}
	var c domain.Conversation
	err := r.convColl.FindOneAndUpdate(ctx, bson.M{"_id": conversationID}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&c)
	if err != nil {
		return domain.Conversation{}, notFound(err)
	}
	return c, nil
}

// inTx runs fn inside a causally consistent transaction.
func (r *MongoStore) inTx(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (r *MongoStore) AppendMessage(ctx context.Context, nm domain.NewMessage) (domain.Message, error) {
	if err := nm.Check(); err != nil {
		return domain.Message{}, err
	}
	var out domain.Message
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		var c domain.Conversation
		if err := r.convColl.FindOne(sc, bson.M{"_id": nm.ConversationID}).Decode(&c); err != nil {
			return notFound(err)
		}
		if err := checkParticipants(c, nm); err != nil {
			return err
		}
		now := time.Now().UTC()
		out = domain.Message{
			ID:             uuid.NewString(),
			ConversationID: nm.ConversationID,
			SenderID:       nm.SenderID,
			ReceiverID:     nm.ReceiverID,
			Content:        nm.Content,
			Type:           nm.Type,
			Status:         domain.StatusDelivered,
			CreatedAt:      now,
			Attachments:    stampAttachments(nm.Attachments, now),
		}
		if _, err := r.msgColl.InsertOne(sc, out); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		_, err := r.convColl.UpdateByID(sc, c.ID, bson.M{
			"$inc": bson.M{unreadField(c, nm.ReceiverID): 1},
			"$set": bson.M{"last_message_at": now, "updated_at": now},
		})
		return err
	})
	if err != nil {
		return domain.Message{}, err
	}
	return out, nil
}

func (r *MongoStore) GetMessage(ctx context.Context, conversationID, messageID string) (domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	var m domain.Message
	if err := r.msgColl.FindOne(ctx, bson.M{"_id": messageID, "conversation_id": conversationID}).Decode(&m); err != nil {
		return domain.Message{}, notFound(err)
	}
	return m, nil
}

func (r *MongoStore) ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	filter := bson.M{"conversation_id": conversationID}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(clampLimit(limit)))
	cur, err := r.msgColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []domain.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *MongoStore) MarkRead(ctx context.Context, conversationID, messageID, readerID string) (domain.Message, bool, error) {
	var (
		out        domain.Message
		transition bool
	)
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		transition = false
		now := time.Now().UTC()
		res, err := r.msgColl.UpdateOne(sc, bson.M{
			"_id":             messageID,
			"conversation_id": conversationID,
			"receiver_id":     readerID,
			"status":          bson.M{"$ne": domain.StatusRead},
		}, bson.M{"$set": bson.M{"status": domain.StatusRead, "read_at": now}})
		if err != nil {
			return err
		}
		if res.ModifiedCount == 1 {
			transition = true
			var c domain.Conversation
			if err := r.convColl.FindOne(sc, bson.M{"_id": conversationID}).Decode(&c); err != nil {
				return notFound(err)
			}
			field := unreadField(c, readerID)
			if _, err := r.convColl.UpdateOne(sc,
				bson.M{"_id": conversationID, field: bson.M{"$gt": 0}},
				bson.M{"$inc": bson.M{field: -1}},
			); err != nil {
				return err
			}
		}
		return notFound(r.msgColl.FindOne(sc, bson.M{"_id": messageID, "conversation_id": conversationID}).Decode(&out))
	})
	if err != nil {
		return domain.Message{}, false, err
	}
	return out, transition, nil
}

func (r *MongoStore) MarkAllRead(ctx context.Context, conversationID, readerID string) (int, error) {
	var n int
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		var c domain.Conversation
		if err := r.convColl.FindOne(sc, bson.M{"_id": conversationID}).Decode(&c); err != nil {
			return notFound(err)
		}
		if !c.HasParticipant(readerID) {
			return domain.ErrNotParticipant
		}
		now := time.Now().UTC()
		// writing the conversation first makes concurrent appends conflict and retry
		if _, err := r.convColl.UpdateByID(sc, c.ID, bson.M{
			"$set": bson.M{unreadField(c, readerID): 0, "updated_at": now},
		}); err != nil {
			return err
		}
		res, err := r.msgColl.UpdateMany(sc, bson.M{
			"conversation_id": c.ID,
			"receiver_id":     readerID,
			"status":          bson.M{"$ne": domain.StatusRead},
		}, bson.M{"$set": bson.M{"status": domain.StatusRead, "read_at": now}})
		if err != nil {
			return err
		}
		n = int(res.ModifiedCount)
		return nil
	})
	return n, err
}

func (r *MongoStore) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	c, err := r.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !c.HasParticipant(userID) {
		return 0, domain.ErrNotParticipant
	}
	return c.UnreadFor(userID), nil
}

func (r *MongoStore) TotalUnread(ctx context.Context, userID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	match := participantFilter(userID)
	match["is_archived"] = false
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id": nil,
			"total": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$recruiter_id", userID}},
				"$unread_by_recruiter",
				"$unread_by_job_seeker",
			}}},
		}}},
	}
	cur, err := r.convColl.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)
	var rows []struct {
		Total int `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

func (r *MongoStore) UpsertTyping(ctx context.Context, t domain.TypingIndicator) error {
	c, err := r.GetConversation(ctx, t.ConversationID)
	if err != nil {
		return err
	}
	if !c.HasParticipant(t.UserID) {
		return domain.ErrNotParticipant
	}
	if t.LastTypingAt.IsZero() {
		t.LastTypingAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	_, err = r.typeColl.UpdateOne(ctx,
		bson.M{"conversation_id": t.ConversationID, "user_id": t.UserID},
		bson.M{"$set": bson.M{"is_typing": t.IsTyping, "last_typing_at": t.LastTypingAt}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *MongoStore) ActiveTyping(ctx context.Context, conversationID string, staleAfter time.Duration) ([]domain.TypingIndicator, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	cur, err := r.typeColl.Find(ctx, bson.M{
		"conversation_id": conversationID,
		"is_typing":       true,
		"last_typing_at":  bson.M{"$gte": time.Now().UTC().Add(-staleAfter)},
	}, options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []domain.TypingIndicator{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoStore) GetUser(ctx context.Context, userID string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	var u domain.User
	if err := r.userColl.FindOne(ctx, bson.M{"_id": userID}).Decode(&u); err != nil {
		return domain.User{}, notFound(err)
	}
	return u, nil
}

func (r *MongoStore) GetUsers(ctx context.Context, userIDs []string) (map[string]domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	cur, err := r.userColl.Find(ctx, bson.M{"_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make(map[string]domain.User, len(userIDs))
	for cur.Next(ctx) {
		var u domain.User
		if err := cur.Decode(&u); err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, cur.Err()
}

func (r *MongoStore) UpsertUser(ctx context.Context, u domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	set := bson.M{"first_name": u.FirstName, "last_name": u.LastName, "email": u.Email, "role": u.Role}
	if u.LastActivity != nil {
		set["last_activity"] = u.LastActivity.UTC()
	}
	_, err := r.userColl.UpdateByID(ctx, u.ID, bson.M{"$set": set}, options.Update().SetUpsert(true))
	return err
}

func (r *MongoStore) TouchActivity(ctx context.Context, userID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	res, err := r.userColl.UpdateByID(ctx, userID, bson.M{"$set": bson.M{"last_activity": at.UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoStore) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
