// Package seeder generates realistic entity state-change events for
// development and load testing of the audit pipeline.
package seeder

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
)

// dataGenerators build the data block of insert and update events.
var dataGenerators = map[string]func(f *gofakeit.Faker) map[string]interface{}{
	"book": func(f *gofakeit.Faker) map[string]interface{} {
		return map[string]interface{}{
			"name":      f.Sentence(3),
			"writer":    f.Name(),
			"publisher": f.Company(),
			"isbn":      f.Numerify("978-#-##-######-#"),
			"price":     f.Price(5, 80),
		}
	},
	"customer": func(f *gofakeit.Faker) map[string]interface{} {
		return map[string]interface{}{
			"name":  f.Name(),
			"email": f.Email(),
			"phone": f.Phone(),
			"city":  f.City(),
		}
	},
	"order": func(f *gofakeit.Faker) map[string]interface{} {
		return map[string]interface{}{
			"customer_id": f.UUID(),
			"item":        f.Word(),
			"quantity":    f.Number(1, 20),
			"total":       f.Price(10, 2000),
			"status":      f.RandomString([]string{"pending", "paid", "shipped", "cancelled"}),
		}
	},
	"invoice": func(f *gofakeit.Faker) map[string]interface{} {
		return map[string]interface{}{
			"number":   f.Numerify("INV-######"),
			"amount":   f.Price(50, 10000),
			"currency": f.CurrencyShort(),
			"paid":     f.Bool(),
		}
	},
}

type entity struct {
	typ     string
	id      string
	created bool
}

// Generator produces a deterministic stream of envelopes for one seed. Each
// entity is inserted before it is updated, and a deleted entity is replaced
// by a fresh one. It is not safe for concurrent use.
type Generator struct {
	cfg      *Config
	faker    *gofakeit.Faker
	entities []*entity
	authors  []string
	start    time.Time
	step     time.Duration
	n        int
}

// NewGenerator prepares the entity and author pools. Timestamps are spread
// evenly over cfg.TimeSpread ending at now.
func NewGenerator(cfg *Config, now time.Time) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = now.UnixNano()
	}
	g := &Generator{
		cfg:   cfg,
		faker: gofakeit.New(seed),
		start: now.Add(-cfg.TimeSpread),
		step:  time.Millisecond,
	}
	if cfg.TimeSpread > 0 {
		if step := cfg.TimeSpread / time.Duration(cfg.Count); step > g.step {
			g.step = step
		}
	}

	g.authors = make([]string, cfg.Authors)
	for i := range g.authors {
		g.authors[i] = g.faker.Email()
	}
	g.entities = make([]*entity, cfg.Entities)
	for i := range g.entities {
		g.entities[i] = g.newEntity()
	}
	return g
}

func (g *Generator) newEntity() *entity {
	return &entity{
		typ: g.cfg.EntityTypes[g.faker.Number(0, len(g.cfg.EntityTypes)-1)],
		id:  g.faker.UUID(),
	}
}

// Next returns the next envelope.
func (g *Generator) Next() (*event.Envelope, error) {
	slot := g.faker.Number(0, len(g.entities)-1)
	ent := g.entities[slot]

	var (
		operation string
		data      map[string]interface{}
	)
	switch {
	case !ent.created:
		operation = event.OperationInsert
		data = dataGenerators[ent.typ](g.faker)
		ent.created = true
	case g.faker.Float64() < g.cfg.DeleteRatio:
		operation = event.OperationDelete
		g.entities[slot] = g.newEntity()
	default:
		operation = event.OperationUpdate
		data = dataGenerators[ent.typ](g.faker)
	}

	ts := g.start.Add(time.Duration(g.n) * g.step)
	g.n++

	author := g.authors[g.faker.Number(0, len(g.authors)-1)]
	var payload interface{}
	if data != nil {
		payload = data
	}
	env, err := event.New(g.cfg.Source, ent.typ, ent.id, operation, author, ts, payload)
	if err != nil {
		return nil, err
	}
	env.ID = g.faker.UUID()
	env.Time = ts.UTC().Format(time.RFC3339)
	return env, nil
}
