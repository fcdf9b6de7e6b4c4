package discord_notifier

import "diffusion_sweeper/entities"

type Notifier interface {
	Notify(summary *entities.SweepSummary) error
}
