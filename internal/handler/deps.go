package handler

import (
	"pairdesk/internal/app/signaling"
	"pairdesk/internal/configs"
)

type AppDeps struct {
	Coordinator *signaling.Coordinator
	Config      *configs.AppConfig
}
