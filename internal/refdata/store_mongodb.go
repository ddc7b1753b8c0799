package refdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"claimpricer/internal/core"
)

type contractDoc struct {
	ID             string     `bson:"_id"`
	OrganizationID string     `bson:"organization_id"`
	Name           string     `bson:"name"`
	ProductLine    string     `bson:"product_line"`
	Status         string     `bson:"status"`
	EffectiveStart time.Time  `bson:"effective_start"`
	EffectiveEnd   *time.Time `bson:"effective_end"`
}

type feeScheduleDoc struct {
	ID             string    `bson:"_id"`
	Name           string    `bson:"name"`
	Source         string    `bson:"source"`
	EffectiveStart time.Time `bson:"effective_start"`
}

type rateDoc struct {
	FeeScheduleID string `bson:"fee_schedule_id"`
	Code          string `bson:"code"`
	Amount        string `bson:"amount"`
}

type conditionDoc struct {
	ID        string `bson:"id"`
	Attribute string `bson:"attribute"`
	Operator  string `bson:"operator"`
	Value     string `bson:"value"`
}

// ruleDoc embeds the condition set so a rule and its conditions are always
// replaced together.
type ruleDoc struct {
	ID               string         `bson:"_id"`
	ContractID       string         `bson:"contract_id"`
	Description      string         `bson:"description"`
	RuleType         string         `bson:"rule_type"`
	Methodology      string         `bson:"methodology"`
	Status           string         `bson:"status"`
	EffectiveStart   time.Time      `bson:"effective_start"`
	EffectiveEnd     *time.Time     `bson:"effective_end"`
	SpecificityScore int            `bson:"specificity_score"`
	Multiplier       *string        `bson:"multiplier"`
	FlatRate         *string        `bson:"flat_rate"`
	ThresholdAmount  *string        `bson:"threshold_amount"`
	FeeScheduleID    string         `bson:"fee_schedule_id"`
	CreatedAt        time.Time      `bson:"created_at"`
	Conditions       []conditionDoc `bson:"conditions"`
}

var ruleSort = bson.D{
	{Key: "specificity_score", Value: -1},
	{Key: "created_at", Value: 1},
	{Key: "_id", Value: 1},
}

// MongoDBStore implements Store for MongoDB.
type MongoDBStore struct {
	contracts    *mongo.Collection
	feeSchedules *mongo.Collection
	rates        *mongo.Collection
	rules        *mongo.Collection
}

// NewMongoDBStore creates the reference collections' indexes.
func NewMongoDBStore(ctx context.Context, database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	s := &MongoDBStore{
		contracts:    database.Collection("contracts"),
		feeSchedules: database.Collection("fee_schedules"),
		rates:        database.Collection("fee_schedule_rates"),
		rules:        database.Collection("pricing_rules"),
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := s.contracts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "status", Value: 1}},
	}); err != nil {
		slog.Warn("failed to create MongoDB index for contracts", "error", err)
	}
	if _, err := s.rates.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "fee_schedule_id", Value: 1}, {Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		slog.Warn("failed to create MongoDB index for fee schedule rates", "error", err)
	}
	if _, err := s.rules.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "contract_id", Value: 1}, {Key: "status", Value: 1}, {Key: "specificity_score", Value: -1}},
	}); err != nil {
		slog.Warn("failed to create MongoDB index for pricing rules", "error", err)
	}

	return s, nil
}

func effectiveOn(asOf time.Time) bson.D {
	return bson.D{
		{Key: "effective_start", Value: bson.D{{Key: "$lte", Value: asOf.UTC()}}},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "effective_end", Value: nil}},
			bson.D{{Key: "effective_end", Value: bson.D{{Key: "$gte", Value: asOf.UTC()}}}},
		}},
	}
}

func (s *MongoDBStore) FindActiveContracts(ctx context.Context, orgID string, asOf time.Time) ([]core.Contract, error) {
	filter := append(bson.D{
		{Key: "organization_id", Value: orgID},
		{Key: "status", Value: string(core.ContractActive)},
	}, effectiveOn(asOf)...)
	return s.findContracts(ctx, filter)
}

func (s *MongoDBStore) ListApplicableRules(ctx context.Context, contractID string, asOf time.Time) ([]core.PricingRule, error) {
	filter := append(bson.D{
		{Key: "contract_id", Value: contractID},
		{Key: "status", Value: string(core.RuleActive)},
	}, effectiveOn(asOf)...)
	docs, err := s.findRules(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]core.PricingRule, 0, len(docs))
	for _, d := range docs {
		r, err := d.toRule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *MongoDBStore) GetConditions(ctx context.Context, ruleID string) ([]core.Condition, error) {
	var doc ruleDoc
	err := s.rules.FindOne(ctx, bson.D{{Key: "_id", Value: ruleID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %s: %w", ruleID, err)
	}
	out := make([]core.Condition, 0, len(doc.Conditions))
	for i, c := range doc.Conditions {
		cond, err := conditionFromRow(c.ID, doc.ID, c.Attribute, c.Operator, c.Value, i)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func (s *MongoDBStore) GetFeeScheduleRate(ctx context.Context, feeScheduleID, code string) (decimal.Decimal, error) {
	var doc rateDoc
	err := s.rates.FindOne(ctx, bson.D{
		{Key: "fee_schedule_id", Value: feeScheduleID},
		{Key: "code", Value: code},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load fee schedule rate: %w", err)
	}
	return decimal.NewFromString(doc.Amount)
}

func (s *MongoDBStore) PutContract(ctx context.Context, c core.Contract) error {
	if err := validateContract(c); err != nil {
		return err
	}
	doc := contractDoc{
		ID:             c.ID,
		OrganizationID: c.OrganizationID,
		Name:           c.Name,
		ProductLine:    c.ProductLine,
		Status:         string(c.Status),
		EffectiveStart: c.EffectiveStart.UTC(),
		EffectiveEnd:   c.EffectiveEnd,
	}
	_, err := s.contracts.ReplaceOne(ctx, bson.D{{Key: "_id", Value: c.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert contract %s: %w", c.ID, err)
	}
	return nil
}

func (s *MongoDBStore) PutFeeSchedule(ctx context.Context, fs core.FeeSchedule) error {
	if fs.ID == "" {
		return fmt.Errorf("fee schedule id is required")
	}
	doc := feeScheduleDoc{ID: fs.ID, Name: fs.Name, Source: fs.Source, EffectiveStart: fs.EffectiveStart.UTC()}
	_, err := s.feeSchedules.ReplaceOne(ctx, bson.D{{Key: "_id", Value: fs.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert fee schedule %s: %w", fs.ID, err)
	}
	return nil
}

func (s *MongoDBStore) PutFeeScheduleRate(ctx context.Context, r core.FeeScheduleRate) error {
	doc := rateDoc{FeeScheduleID: r.FeeScheduleID, Code: r.Code, Amount: r.Amount.String()}
	filter := bson.D{{Key: "fee_schedule_id", Value: r.FeeScheduleID}, {Key: "code", Value: r.Code}}
	if _, err := s.rates.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert rate %s/%s: %w", r.FeeScheduleID, r.Code, err)
	}
	return nil
}

func (s *MongoDBStore) PutRule(ctx context.Context, rule core.PricingRule, conds []core.Condition) error {
	rule, conds, err := prepareRule(rule, conds)
	if err != nil {
		return err
	}
	doc := ruleDoc{
		ID:               rule.ID,
		ContractID:       rule.ContractID,
		Description:      rule.Description,
		RuleType:         string(rule.Type),
		Methodology:      string(rule.Methodology),
		Status:           string(rule.Status),
		EffectiveStart:   rule.EffectiveStart.UTC(),
		EffectiveEnd:     rule.EffectiveEnd,
		SpecificityScore: rule.SpecificityScore,
		Multiplier:       decimalString(rule.Multiplier),
		FlatRate:         decimalString(rule.FlatRate),
		ThresholdAmount:  decimalString(rule.ThresholdAmount),
		FeeScheduleID:    rule.FeeScheduleID,
		CreatedAt:        rule.CreatedAt,
		Conditions:       make([]conditionDoc, len(conds)),
	}
	for i, c := range conds {
		doc.Conditions[i] = conditionDoc{ID: c.ID, Attribute: c.Attribute, Operator: string(c.Operator), Value: c.Value}
	}
	_, err = s.rules.ReplaceOne(ctx, bson.D{{Key: "_id", Value: rule.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert rule %s: %w", rule.ID, err)
	}
	return nil
}

func (s *MongoDBStore) SetScore(ctx context.Context, ruleID string, score int) error {
	res, err := s.rules.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: ruleID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "specificity_score", Value: score}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to update score for %s: %w", ruleID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
	}
	return nil
}

func (s *MongoDBStore) Reset(ctx context.Context) error {
	for _, coll := range []*mongo.Collection{s.rules, s.rates, s.feeSchedules, s.contracts} {
		if _, err := coll.DeleteMany(ctx, bson.D{}); err != nil {
			return fmt.Errorf("failed to clear %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (s *MongoDBStore) GetContract(ctx context.Context, id string) (core.Contract, error) {
	var doc contractDoc
	err := s.contracts.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Contract{}, ErrNotFound
	}
	if err != nil {
		return core.Contract{}, fmt.Errorf("failed to load contract %s: %w", id, err)
	}
	return doc.toContract()
}

func (s *MongoDBStore) ListContracts(ctx context.Context) ([]core.Contract, error) {
	return s.findContracts(ctx, bson.D{})
}

func (s *MongoDBStore) ListRules(ctx context.Context, contractID string) ([]core.PricingRule, error) {
	docs, err := s.findRules(ctx, bson.D{{Key: "contract_id", Value: contractID}})
	if err != nil {
		return nil, err
	}
	out := make([]core.PricingRule, 0, len(docs))
	for _, d := range docs {
		r, err := d.toRule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Close is a no-op; the client belongs to the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}

func (s *MongoDBStore) findContracts(ctx context.Context, filter bson.D) ([]core.Contract, error) {
	cursor, err := s.contracts.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []contractDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode contracts: %w", err)
	}
	out := make([]core.Contract, 0, len(docs))
	for _, d := range docs {
		c, err := d.toContract()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *MongoDBStore) findRules(ctx context.Context, filter bson.D) ([]ruleDoc, error) {
	cursor, err := s.rules.Find(ctx, filter, options.Find().SetSort(ruleSort))
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []ruleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return docs, nil
}

func (d contractDoc) toContract() (core.Contract, error) {
	status, err := core.ParseContractStatus(d.Status)
	if err != nil {
		return core.Contract{}, fmt.Errorf("contract %s: %w", d.ID, err)
	}
	return core.Contract{
		ID:             d.ID,
		OrganizationID: d.OrganizationID,
		Name:           d.Name,
		ProductLine:    d.ProductLine,
		Status:         status,
		EffectiveStart: d.EffectiveStart.UTC(),
		EffectiveEnd:   utcPtr(d.EffectiveEnd),
	}, nil
}

func (d ruleDoc) toRule() (core.PricingRule, error) {
	row := ruleRow{
		id:             d.ID,
		contractID:     d.ContractID,
		description:    d.Description,
		ruleType:       d.RuleType,
		methodology:    d.Methodology,
		status:         d.Status,
		effectiveStart: dateString(d.EffectiveStart),
		effectiveEnd:   optionalDateString(d.EffectiveEnd),
		score:          d.SpecificityScore,
		multiplier:     d.Multiplier,
		flatRate:       d.FlatRate,
		threshold:      d.ThresholdAmount,
		feeScheduleID:  d.FeeScheduleID,
		createdAt:      d.CreatedAt.UTC(),
	}
	return row.toRule()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
