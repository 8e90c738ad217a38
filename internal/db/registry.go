package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Registry bundles every repository over one shared connection pool. It is
// built once at startup and handed to the API server and the job binaries so
// all database access flows through a single pool.
type Registry struct {
	pool *pgxpool.Pool

	lawns           *LawnRepository
	readings        *ReadingRepository
	applications    *ApplicationRepository
	recommendations *RecommendationRepository
	rules           *RuleRepository
	apiKeys         *APIKeyRepository
	jobLocks        *JobLockRepository
	jobHistory      *JobHistoryRepository
}

// NewRegistry wires all repositories to the given pool. A nil pool is
// accepted for tests that never touch the database.
func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{
		pool:            pool,
		lawns:           NewLawnRepository(pool),
		readings:        NewReadingRepository(pool),
		applications:    NewApplicationRepository(pool),
		recommendations: NewRecommendationRepository(pool),
		rules:           NewRuleRepository(pool),
		apiKeys:         NewAPIKeyRepository(pool),
		jobLocks:        NewJobLockRepository(pool),
		jobHistory:      NewJobHistoryRepository(pool),
	}
}

func (r *Registry) Lawns() *LawnRepository                     { return r.lawns }
func (r *Registry) Readings() *ReadingRepository               { return r.readings }
func (r *Registry) Applications() *ApplicationRepository       { return r.applications }
func (r *Registry) Recommendations() *RecommendationRepository { return r.recommendations }
func (r *Registry) Rules() *RuleRepository                     { return r.rules }
func (r *Registry) APIKeys() *APIKeyRepository                 { return r.apiKeys }
func (r *Registry) JobLocks() *JobLockRepository               { return r.jobLocks }
func (r *Registry) JobHistory() *JobHistoryRepository          { return r.jobHistory }

// Ping verifies database connectivity. The API health probe calls this.
func (r *Registry) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the underlying connection pool. Safe to call when the
// registry was built without a pool.
func (r *Registry) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}
