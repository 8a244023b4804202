// Package sandbox generates reproducible demo data for a fresh clinic
// database: mothers, their children and the routine vaccine catalog.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mchcare/mchcare/internal/domain/vaccine"
	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/db"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// SeedConfig controls the volume of generated data.
type SeedConfig struct {
	Mothers           int   `json:"mothers"`
	ChildrenPerMother int   `json:"children_per_mother"`
	InitialStock      int   `json:"initial_stock"`
	Seed              int64 `json:"seed"`
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		Mothers:           10,
		ChildrenPerMother: 1,
		InitialStock:      50,
	}
}

// ---------------------------------------------------------------------------
// Generated records
// ---------------------------------------------------------------------------

type Mother struct {
	FirstName     string
	LastName      string
	BirthDate     time.Time
	ContactNumber string
	Address       string
}

type Child struct {
	FirstName string
	LastName  string
	Sex       string
	BirthDate time.Time
}

// SeedResult summarizes one seed run.
type SeedResult struct {
	Mothers         int           `json:"mothers"`
	Children        int           `json:"children"`
	Vaccines        int           `json:"vaccines"`
	VaccinesSkipped int           `json:"vaccines_skipped"`
	Duration        time.Duration `json:"duration"`
}

// ---------------------------------------------------------------------------
// Pools
// ---------------------------------------------------------------------------

var (
	firstNamesFemale = []string{
		"Maria", "Liza", "Joy", "Grace", "Ana", "Kristine", "Rowena", "Marites",
		"Jennifer", "Rosalie", "Mylene", "Charmaine", "Lourdes", "Andrea",
	}
	firstNamesChild = []string{
		"Miguel", "Sofia", "Gabriel", "Althea", "Nathan", "Chloe", "Joshua",
		"Princess", "Ethan", "Angel", "Jacob", "Bea",
	}
	lastNames = []string{
		"Dela Cruz", "Santos", "Reyes", "Garcia", "Mendoza", "Bautista",
		"Villanueva", "Ramos", "Aquino", "Castillo", "Flores", "Navarro",
	}
	barangays = []string{
		"Poblacion", "San Isidro", "Santa Cruz", "San Roque", "Bagong Silang",
		"Malinis", "Maligaya",
	}
)

// Catalog is the routine immunization set loaded into an empty inventory.
var Catalog = []vaccine.Vaccine{
	{Name: "BCG", Category: "routine", DoseCount: 1, DosageML: ml("0.05")},
	{Name: "Hepatitis B", Category: "routine", DoseCount: 3, DosageML: ml("0.5")},
	{Name: "Pentavalent", Category: "routine", DoseCount: 3, DosageML: ml("0.5")},
	{Name: "OPV", Category: "routine", DoseCount: 3},
	{Name: "IPV", Category: "routine", DoseCount: 1, DosageML: ml("0.5")},
	{Name: "PCV", Category: "routine", DoseCount: 3, DosageML: ml("0.5")},
	{Name: "MMR", Category: "routine", DoseCount: 2, DosageML: ml("0.5")},
	{Name: "Tetanus Toxoid", Category: "supplemental", DoseCount: 2, DosageML: ml("0.5")},
}

func ml(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

// DataGenerator produces deterministic demo records.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

// dateBetween returns a day in [from, to).
func (g *DataGenerator) dateBetween(from, to time.Time) time.Time {
	days := int(to.Sub(from).Hours() / 24)
	if days <= 0 {
		return from
	}
	return from.AddDate(0, 0, g.rng.Intn(days))
}

func (g *DataGenerator) mobile() string {
	return fmt.Sprintf("09%02d%07d", 15+g.rng.Intn(85), g.rng.Intn(10000000))
}

// GenerateMother returns a mother aged 18 to 40 on today.
func (g *DataGenerator) GenerateMother(today time.Time) Mother {
	return Mother{
		FirstName:     g.pick(firstNamesFemale),
		LastName:      g.pick(lastNames),
		BirthDate:     g.dateBetween(today.AddDate(-40, 0, 0), today.AddDate(-18, 0, 0)),
		ContactNumber: g.mobile(),
		Address:       fmt.Sprintf("Purok %d, Brgy. %s", 1+g.rng.Intn(7), g.pick(barangays)),
	}
}

// GenerateChild returns a child born within the two years before today.
func (g *DataGenerator) GenerateChild(lastName string, today time.Time) Child {
	sex := "female"
	if g.rng.Intn(2) == 0 {
		sex = "male"
	}
	return Child{
		FirstName: g.pick(firstNamesChild),
		LastName:  lastName,
		Sex:       sex,
		BirthDate: g.dateBetween(today.AddDate(-2, 0, 0), today),
	}
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// Store persists generated people.
type Store interface {
	InsertMother(ctx context.Context, m *Mother) (uuid.UUID, error)
	InsertChild(ctx context.Context, motherID uuid.UUID, c *Child) (uuid.UUID, error)
}

// VaccineCatalog registers vaccines with their opening stock.
type VaccineCatalog interface {
	Create(ctx context.Context, v *vaccine.Vaccine, initialStock int) error
}

type Seeder struct {
	config    SeedConfig
	generator *DataGenerator
	store     Store
	vaccines  VaccineCatalog
	tx        db.Transactor
	logger    zerolog.Logger
	now       func() time.Time
}

func NewSeeder(config SeedConfig, store Store, vaccines VaccineCatalog, tx db.Transactor, logger zerolog.Logger) *Seeder {
	return &Seeder{
		config:    config,
		generator: NewDataGenerator(config.Seed),
		store:     store,
		vaccines:  vaccines,
		tx:        tx,
		logger:    logger.With().Str("component", "seeder").Logger(),
		now:       time.Now,
	}
}

// Seed loads the vaccine catalog and then the generated families. Vaccines
// that already exist are skipped so the command can be re-run; each family
// is written in its own transaction.
func (s *Seeder) Seed(ctx context.Context) (*SeedResult, error) {
	start := s.now()
	result := &SeedResult{}

	if s.config.InitialStock < 0 {
		return nil, apperr.Validation("initial_stock", "must not be negative")
	}
	for _, item := range Catalog {
		v := item
		err := s.vaccines.Create(ctx, &v, s.config.InitialStock)
		switch {
		case errors.Is(err, apperr.ErrConflict):
			result.VaccinesSkipped++
			s.logger.Debug().Str("vaccine", v.Name).Msg("vaccine already exists")
		case err != nil:
			return result, fmt.Errorf("seed vaccine %s: %w", v.Name, err)
		default:
			result.Vaccines++
		}
	}

	today := start
	for i := 0; i < s.config.Mothers; i++ {
		mother := s.generator.GenerateMother(today)
		children := make([]Child, s.config.ChildrenPerMother)
		for j := range children {
			children[j] = s.generator.GenerateChild(mother.LastName, today)
		}

		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			motherID, err := s.store.InsertMother(ctx, &mother)
			if err != nil {
				return err
			}
			for j := range children {
				if _, err := s.store.InsertChild(ctx, motherID, &children[j]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("seed family %d: %w", i+1, err)
		}
		result.Mothers++
		result.Children += len(children)
	}

	result.Duration = s.now().Sub(start)
	s.logger.Info().
		Int("mothers", result.Mothers).
		Int("children", result.Children).
		Int("vaccines", result.Vaccines).
		Int("vaccines_skipped", result.VaccinesSkipped).
		Dur("duration", result.Duration).
		Msg("demo data seeded")
	return result, nil
}

// ---------------------------------------------------------------------------
// Postgres store
// ---------------------------------------------------------------------------

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) InsertMother(ctx context.Context, m *Mother) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO patient (first_name, last_name, birth_date, contact_number, address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		m.FirstName, m.LastName, m.BirthDate, m.ContactNumber, m.Address).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert mother: %w", err)
	}
	return id, nil
}

func (s *storePG) InsertChild(ctx context.Context, motherID uuid.UUID, c *Child) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO child_record (mother_id, first_name, last_name, sex, birth_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		motherID, c.FirstName, c.LastName, c.Sex, c.BirthDate).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert child: %w", err)
	}
	return id, nil
}
