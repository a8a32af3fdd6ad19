package cmd

import (
	"context"
	"errors"

	"github.com/marcus/settingsync/internal/machineid"
	"github.com/marcus/settingsync/internal/machines"
	"github.com/marcus/settingsync/internal/syncclient"
	"github.com/marcus/settingsync/internal/syncconfig"
	"github.com/marcus/settingsync/internal/userdata"
)

var errNotLoggedIn = errors.New("not logged in (run: settingsync auth login)")

// storeFactory returns the store backing the machines registry. Tests replace it.
var storeFactory = remoteStore

// idFactory returns the current machine id resolver. Tests replace it.
var idFactory = localMachineID

func serverURL() string {
	if globalFlags.server != "" {
		return globalFlags.server
	}
	return syncconfig.GetServerURL()
}

func remoteStore() (userdata.Store, error) {
	apiKey := syncconfig.GetAPIKey()
	if apiKey == "" {
		return nil, errNotLoggedIn
	}
	return syncclient.New(serverURL(), apiKey, ""), nil
}

func localMachineID() (machines.IDFunc, error) {
	dir, err := syncconfig.GetDataDir()
	if err != nil {
		return nil, err
	}
	return machineid.Provider(dir), nil
}

// openService builds the machines service with the configured store and
// identity. The machine id is resolved up front so the client can tag
// requests with it.
func openService(ctx context.Context) (*machines.Service, error) {
	store, err := storeFactory()
	if err != nil {
		return nil, err
	}
	idFunc, err := idFactory()
	if err != nil {
		return nil, err
	}

	svc := machines.New(store, idFunc, machines.Options{
		Product: syncconfig.GetProductName(),
		Logger:  logger,
	})
	id, err := svc.CurrentID(ctx)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(*syncclient.Client); ok {
		c.MachineID = id
	}
	logger.Debug("machines service ready", "machine_id", id)
	return svc, nil
}
