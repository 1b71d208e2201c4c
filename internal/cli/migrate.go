package cli

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"llmchat/internal/storage"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			db, err := storage.Open(opts.dbType, cfg)
			if err != nil {
				return errors.Wrap(err, "open database")
			}
			defer db.Close()
			if err := storage.Migrate(db, opts.dbType); err != nil {
				return errors.Wrap(err, "migrate database")
			}
			log.Info().Str("driver", opts.dbType).Msg("schema up to date")
			return nil
		},
	}
}
