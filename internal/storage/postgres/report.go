package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/repeat-buyers/internal/report"
)

const insertRunSQL = `INSERT INTO report_runs (id, created_at, batches, missing_batches, orders, customers)
	VALUES ($1, $2, $3, $4, $5, $6)`

var bucketColumns = []string{
	"run_id",
	"granularity",
	"position",
	"bucket_key",
	"order_count",
	"new_customer_count",
	"returning_customer_count",
	"unique_customer_count",
	"returning_share_of_unique",
	"total_revenue",
	"new_customer_revenue",
	"returning_customer_revenue",
	"returning_revenue_share",
}

var _ report.Repository = (*ReportRepository)(nil)

// ReportRepository implements report.Repository backed by PostgreSQL.
type ReportRepository struct {
	pool *pgxpool.Pool
}

// NewReportRepository returns a ReportRepository that uses the given pool.
func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

// Save stores the run and all of its buckets in one transaction. Buckets are
// bulk-loaded with COPY.
func (r *ReportRepository) Save(ctx context.Context, run *report.Run) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertRunSQL,
		run.ID, run.CreatedAt, run.Batches, run.MissingBatches, run.Orders, run.Customers,
	); err != nil {
		return errors.Wrapf(err, "insert run %s", run.ID)
	}

	rows := bucketRows(run)
	if len(rows) > 0 {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"report_buckets"}, bucketColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return errors.Wrapf(err, "copy buckets of run %s", run.ID)
		}
		if int(n) != len(rows) {
			return errors.Errorf("copied %d of %d buckets", n, len(rows))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// bucketRows flattens every report of the run into COPY rows ordered as
// bucketColumns. Position keeps each report's emission order.
func bucketRows(run *report.Run) [][]any {
	var rows [][]any
	for _, rep := range run.Reports {
		for i, s := range rep.Buckets {
			rows = append(rows, []any{
				run.ID,
				string(rep.Granularity),
				i,
				s.Key,
				s.OrderCount,
				s.NewCustomerCount,
				s.ReturningCustomerCount,
				s.UniqueCustomerCount,
				s.ReturningShareOfUnique,
				s.TotalRevenue,
				s.NewCustomerRevenue,
				s.ReturningCustomerRevenue,
				s.ReturningRevenueShare,
			})
		}
	}
	return rows
}
