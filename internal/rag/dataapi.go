package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/rs/zerolog/log"
)

// StatementAPI is the part of the RDS Data API client the index uses.
type StatementAPI interface {
	ExecuteStatement(ctx context.Context, in *rdsdata.ExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error)
}

var validTable = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// DataAPIIndex stores cases in an Aurora PostgreSQL table with a pgvector
// column, reached through the RDS Data API. It is safe for concurrent use.
type DataAPIIndex struct {
	client     StatementAPI
	clusterARN string
	secretARN  string
	database   string
	table      string

	mu    sync.Mutex
	dims  int
	ready bool
}

func NewDataAPIIndex(client StatementAPI, clusterARN, secretARN, database, table string) (*DataAPIIndex, error) {
	if !validTable.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &DataAPIIndex{
		client:     client,
		clusterARN: clusterARN,
		secretARN:  secretARN,
		database:   database,
		table:      table,
	}, nil
}

func (d *DataAPIIndex) Location() string { return d.database + "." + d.table }

func formatVector(emb []float32) string {
	if len(emb) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range emb {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func stringParam(name, value string) rdsdatatypes.SqlParameter {
	return rdsdatatypes.SqlParameter{Name: aws.String(name), Value: &rdsdatatypes.FieldMemberStringValue{Value: value}}
}

func (d *DataAPIIndex) exec(ctx context.Context, sql string, params []rdsdatatypes.SqlParameter) (*rdsdata.ExecuteStatementOutput, error) {
	return d.client.ExecuteStatement(ctx, &rdsdata.ExecuteStatementInput{
		ResourceArn: aws.String(d.clusterARN),
		SecretArn:   aws.String(d.secretARN),
		Database:    aws.String(d.database),
		Sql:         aws.String(sql),
		Parameters:  params,
	})
}

// Ensure creates the extension and table once per process, or again after
// Drop.
func (d *DataAPIIndex) Ensure(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("invalid dimension")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ready {
		return nil
	}
	d.dims = dims
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id uuid PRIMARY KEY,
			content text NOT NULL,
			side text NOT NULL,
			payload jsonb NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at timestamptz NOT NULL DEFAULT NOW())`, d.table, dims),
	}
	for _, sql := range stmts {
		if _, err := d.exec(ctx, sql, nil); err != nil {
			log.Error().Err(err).Str("table", d.table).Msg("Ensure table failed")
			return fmt.Errorf("ensure %s: %w", d.table, err)
		}
	}
	d.ready = true
	return nil
}

func (d *DataAPIIndex) Upsert(ctx context.Context, points []Point) error {
	sql := fmt.Sprintf(`INSERT INTO %s (id, content, side, payload, embedding)
		VALUES (:id::uuid, :content, :side, :payload::jsonb, :embedding::vector)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content, side = EXCLUDED.side, payload = EXCLUDED.payload, embedding = EXCLUDED.embedding`, d.table)
	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload %s: %w", p.ID, err)
		}
		params := []rdsdatatypes.SqlParameter{
			stringParam("id", p.ID),
			stringParam("content", p.Payload.Content),
			stringParam("side", p.Payload.Side),
			{Name: aws.String("payload"), Value: &rdsdatatypes.FieldMemberStringValue{Value: string(payload)}, TypeHint: rdsdatatypes.TypeHintJson},
			stringParam("embedding", formatVector(p.Vector)),
		}
		if _, err := d.exec(ctx, sql, params); err != nil {
			log.Error().Err(err).Str("id", p.ID).Msg("Upsert case failed")
			return fmt.Errorf("upsert %s: %w", p.ID, err)
		}
	}
	return nil
}

func (d *DataAPIIndex) Search(ctx context.Context, vector []float32, topK int, minScore *float64) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	where := ""
	params := []rdsdatatypes.SqlParameter{
		stringParam("emb", formatVector(vector)),
		{Name: aws.String("topk"), Value: &rdsdatatypes.FieldMemberLongValue{Value: int64(topK)}},
	}
	if minScore != nil {
		where = "WHERE 1 - (embedding <=> :emb::vector) >= :min"
		params = append(params, rdsdatatypes.SqlParameter{Name: aws.String("min"), Value: &rdsdatatypes.FieldMemberDoubleValue{Value: *minScore}})
	}
	sql := fmt.Sprintf(`SELECT id::text, payload::text, 1 - (embedding <=> :emb::vector) AS similarity
		FROM %s %s ORDER BY embedding <=> :emb::vector LIMIT :topk`, d.table, where)

	out, err := d.exec(ctx, sql, params)
	if err != nil {
		log.Error().Err(err).Str("table", d.table).Msg("Similarity query failed")
		return nil, fmt.Errorf("search %s: %w", d.table, err)
	}
	hits := make([]Hit, 0, len(out.Records))
	for _, rec := range out.Records {
		if len(rec) < 3 {
			continue
		}
		var h Hit
		if v, ok := rec[0].(*rdsdatatypes.FieldMemberStringValue); ok {
			h.ID = v.Value
		}
		if v, ok := rec[1].(*rdsdatatypes.FieldMemberStringValue); ok {
			if err := json.Unmarshal([]byte(v.Value), &h.Payload); err != nil {
				log.Warn().Err(err).Str("id", h.ID).Msg("Skipping case with unreadable payload")
				continue
			}
		}
		switch v := rec[2].(type) {
		case *rdsdatatypes.FieldMemberDoubleValue:
			h.Score = v.Value
		case *rdsdatatypes.FieldMemberStringValue:
			h.Score, _ = strconv.ParseFloat(v.Value, 64)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (d *DataAPIIndex) Reachable(ctx context.Context) bool {
	_, err := d.exec(ctx, "SELECT 1", nil)
	if err != nil {
		log.Debug().Err(err).Str("cluster", d.clusterARN).Msg("Data API not reachable")
	}
	return err == nil
}

func (d *DataAPIIndex) Info(ctx context.Context) (CollectionInfo, error) {
	d.mu.Lock()
	info := CollectionInfo{Name: d.table, VectorSize: d.dims}
	d.mu.Unlock()
	out, err := d.exec(ctx, fmt.Sprintf("SELECT count(*) FROM %s", d.table), nil)
	if err != nil {
		return info, fmt.Errorf("count %s: %w", d.table, err)
	}
	if len(out.Records) > 0 && len(out.Records[0]) > 0 {
		if v, ok := out.Records[0][0].(*rdsdatatypes.FieldMemberLongValue); ok {
			info.PointsCount = v.Value
		}
	}
	info.Status = "green"
	return info, nil
}

func (d *DataAPIIndex) Drop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = false
	if _, err := d.exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", d.table), nil); err != nil {
		return fmt.Errorf("drop %s: %w", d.table, err)
	}
	return nil
}
