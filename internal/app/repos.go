package app

import (
	"gorm.io/gorm"

	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/repos"
)

type Repos struct {
	Feed      repos.FeedRepo
	Episode   repos.EpisodeRepo
	Job       repos.JobRepo
	Node      repos.NodeRepo
	PodSetup  repos.PodSetupRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("wiring repos")
	return Repos{
		Feed:     repos.NewFeedRepo(db, log),
		Episode:  repos.NewEpisodeRepo(db, log),
		Job:      repos.NewJobRepo(db, log),
		Node:     repos.NewNodeRepo(db, log),
		PodSetup: repos.NewPodSetupRepo(db, log),
	}
}
