// Package controller implements the controller that opens the database of the
// gateway in the config folder.
package controller

import (
	"path/filepath"

	"go.dedis.ch/pemilu/cli"
	"go.dedis.ch/pemilu/cli/node"
	"go.dedis.ch/pemilu/store/kv"
	"golang.org/x/xerrors"
)

// DBName is the name of the database file in the config folder.
const DBName = "pemilu.db"

var newDB = kv.New

type controller struct{}

// NewController returns a new controller initializer that opens the database
// on start and closes it on stop.
func NewController() node.Initializer {
	return controller{}
}

// SetCommands implements node.Initializer. The database has no command.
func (controller) SetCommands(node.Builder) {}

// OnStart implements node.Initializer. It opens the database and injects it.
func (controller) OnStart(flags cli.Flags, inj node.Injector) error {
	db, err := newDB(filepath.Join(flags.Path("config"), DBName))
	if err != nil {
		return xerrors.Errorf("db: %v", err)
	}

	inj.Inject(db)

	return nil
}

// OnStop implements node.Initializer. It closes the database.
func (controller) OnStop(inj node.Injector) error {
	var db kv.DB

	err := inj.Resolve(&db)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	err = db.Close()
	if err != nil {
		return xerrors.Errorf("while closing db: %v", err)
	}

	return nil
}
