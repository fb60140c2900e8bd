package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/power-plant/powerplant/internal/api"
	"github.com/power-plant/powerplant/internal/config"
	"github.com/power-plant/powerplant/internal/database"
	"github.com/power-plant/powerplant/internal/jobs"
	"github.com/power-plant/powerplant/internal/product"
	"github.com/power-plant/powerplant/internal/storage"
	"github.com/power-plant/powerplant/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// PowerPlant is the top-level object for the API server. It owns the
	// database connection and the external service clients, and wires them
	// into the REST gateway.
	PowerPlant struct {
		config config.PowerPlantConfig
	}
)

func New(cfg config.PowerPlantConfig) *PowerPlant {
	return &PowerPlant{config: cfg}
}

// Run brings up the database connection, the external service clients and
// the REST gateway. It does not return until the provided context is
// cancelled or a service crashes.
func (plant *PowerPlant) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	db := database.New()
	if err := db.Connect(plant.config.Database); err != nil {
		return err
	}

	store := product.NewStore(db.GetSqlxDb())

	objectService, err := storage.New(ctx, &plant.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialise object storage: %w", err)
	}

	jobService, err := jobs.New(ctx, &plant.config.Jobs)
	if err != nil {
		return fmt.Errorf("failed to initialise job dispatch: %w", err)
	}

	gateway := api.NewRestGateway(
		&api.RestConfig{HostAddr: plant.config.HostAddress()},
		store,
		jobService,
		objectService,
	)

	wg := &sync.WaitGroup{}
	plant.spawnAsyncService(ctx, wg, gateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "PowerPlant services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService runs the provided service as its own goroutine,
// ensuring the service waitgroup is updated correctly.
func (plant *PowerPlant) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
