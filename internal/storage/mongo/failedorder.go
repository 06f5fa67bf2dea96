package mongo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/kart-checkout/internal/domain/failedorder"
)

const failedOrdersCollection = "failed_orders"

var _ failedorder.Repository = (*FailedOrderRepository)(nil)

type failedOrderDoc struct {
	ID            string               `bson:"_id"`
	TransactionID string               `bson:"transaction_id"`
	UserID        string               `bson:"user_id"`
	Amount        primitive.Decimal128 `bson:"amount"`
	OrderRaw      string               `bson:"order_raw"`
	OrderData     bson.D               `bson:"order_data,omitempty"`
	Comment       string               `bson:"comment,omitempty"`
	Status        string               `bson:"status"`
	ReviewedBy    string               `bson:"reviewed_by,omitempty"`
	CreatedAt     time.Time            `bson:"created_at"`
	UpdatedAt     time.Time            `bson:"updated_at"`
}

// FailedOrderRepository implements failedorder.Repository on MongoDB.
type FailedOrderRepository struct {
	collection *mongo.Collection
}

// NewFailedOrderRepository returns a repository using the failed_orders
// collection of db.
func NewFailedOrderRepository(db *mongo.Database) *FailedOrderRepository {
	return &FailedOrderRepository{collection: db.Collection(failedOrdersCollection)}
}

// CreateIndexes creates the unique transaction index the recorder relies on
// and the index behind the per-user rate check.
func (r *FailedOrderRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return errors.Wrap(err, "create failed order indexes")
	}
	return nil
}

func (r *FailedOrderRepository) GetByID(ctx context.Context, id string) (*failedorder.Record, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *FailedOrderRepository) FindByTransactionID(ctx context.Context, txID string) (*failedorder.Record, error) {
	return r.findOne(ctx, bson.M{"transaction_id": txID})
}

func (r *FailedOrderRepository) findOne(ctx context.Context, filter bson.M) (*failedorder.Record, error) {
	var doc failedOrderDoc
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, failedorder.ErrNotFound
		}
		return nil, errors.Wrap(err, "find failed order")
	}
	return fromDoc(doc)
}

func (r *FailedOrderRepository) Insert(ctx context.Context, rec *failedorder.Record) error {
	doc, err := toDoc(rec)
	if err != nil {
		return err
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return failedorder.ErrDuplicate
		}
		return errors.Wrap(err, "insert failed order")
	}
	return nil
}

func (r *FailedOrderRepository) Update(ctx context.Context, rec *failedorder.Record) error {
	doc, err := toDoc(rec)
	if err != nil {
		return err
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": rec.ID}, bson.M{"$set": bson.M{
		"amount":     doc.Amount,
		"order_raw":  doc.OrderRaw,
		"order_data": doc.OrderData,
		"comment":    doc.Comment,
		"updated_at": doc.UpdatedAt,
	}})
	if err != nil {
		return errors.Wrap(err, "update failed order")
	}
	if res.MatchedCount == 0 {
		return failedorder.ErrNotFound
	}
	return nil
}

func (r *FailedOrderRepository) CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{
		"user_id":    userID,
		"created_at": bson.M{"$gte": since},
	})
	if err != nil {
		return 0, errors.Wrap(err, "count failed orders")
	}
	return n, nil
}

func (r *FailedOrderRepository) List(ctx context.Context, status failedorder.Status) ([]failedorder.Record, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = string(status)
	}
	cur, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, errors.Wrap(err, "list failed orders")
	}
	var docs []failedOrderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode failed orders")
	}

	out := make([]failedorder.Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := fromDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (r *FailedOrderRepository) UpdateStatus(ctx context.Context, rec *failedorder.Record, from failedorder.Status) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": rec.ID, "status": string(from)},
		bson.M{"$set": bson.M{
			"status":      string(rec.Status),
			"reviewed_by": rec.ReviewedBy,
			"updated_at":  rec.UpdatedAt,
		}},
	)
	if err != nil {
		return errors.Wrap(err, "update failed order status")
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": rec.ID})
	if err != nil {
		return errors.Wrap(err, "check failed order")
	}
	if n == 0 {
		return failedorder.ErrNotFound
	}
	return failedorder.ErrConcurrentUpdate
}

func toDoc(rec *failedorder.Record) (failedOrderDoc, error) {
	amount, err := primitive.ParseDecimal128(rec.Amount.String())
	if err != nil {
		return failedOrderDoc{}, errors.Wrap(err, "encode amount")
	}
	// order_raw is authoritative. order_data is a queryable copy that is
	// skipped when the payload has no BSON form ($date strings, 1e400).
	var data bson.D
	if err := bson.UnmarshalExtJSON(rec.OrderData, false, &data); err != nil {
		data = nil
	}
	return failedOrderDoc{
		ID:            rec.ID,
		TransactionID: rec.TransactionID,
		UserID:        rec.UserID,
		Amount:        amount,
		OrderRaw:      string(rec.OrderData),
		OrderData:     data,
		Comment:       rec.Comment,
		Status:        string(rec.Status),
		ReviewedBy:    rec.ReviewedBy,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}

func fromDoc(doc failedOrderDoc) (*failedorder.Record, error) {
	amount, err := decimal.NewFromString(doc.Amount.String())
	if err != nil {
		return nil, errors.Wrap(err, "decode amount")
	}
	data := []byte(doc.OrderRaw)
	if len(data) == 0 {
		data, err = bson.MarshalExtJSON(doc.OrderData, false, false)
		if err != nil {
			return nil, errors.Wrap(err, "decode order data")
		}
	}
	return &failedorder.Record{
		ID:            doc.ID,
		TransactionID: doc.TransactionID,
		UserID:        doc.UserID,
		Amount:        amount,
		OrderData:     json.RawMessage(data),
		Comment:       doc.Comment,
		Status:        failedorder.Status(doc.Status),
		ReviewedBy:    doc.ReviewedBy,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}, nil
}
