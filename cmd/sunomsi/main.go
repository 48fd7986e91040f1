package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sunomsi/backend/internal/auth"
	"github.com/sunomsi/backend/internal/chat"
	"github.com/sunomsi/backend/internal/config"
	"github.com/sunomsi/backend/internal/mailer"
	"github.com/sunomsi/backend/internal/notifications"
	"github.com/sunomsi/backend/internal/notifier"
	"github.com/sunomsi/backend/internal/push"
	"github.com/sunomsi/backend/internal/realtime"
	"github.com/sunomsi/backend/internal/storage"
	"github.com/sunomsi/backend/internal/storage/postgres"
	"github.com/sunomsi/backend/internal/storage/sqlite"
	"github.com/sunomsi/backend/internal/tasks"
	"github.com/sunomsi/backend/internal/users"
)

func main() {
	fmt.Println("Entry point of Sunomsi")
	migrate := flag.Bool("migrate", false, "run migrations and exits")
	flag.Parse()
	//config part
	err := godotenv.Load()
	if err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	cfg := config.MustLoad()

	//database handling
	var conn *sql.DB
	switch cfg.DBDriver {
	case "postgres":
		pg, err := postgres.New(cfg.PGDsn)
		if err != nil {
			log.Fatalf("Error loading to database: %v", err)
		}
		if *migrate {
			if err := pg.Migrate(); err != nil {
				log.Fatalf("Migration failed %v", err)
			}
			slog.Info("Migration Completed")
			return
		}
		conn = pg.Db
	default:
		sq, err := sqlite.New(cfg.SQLITEDsn)
		if err != nil {
			log.Fatalf("Error loading to database: %v", err)
		}
		if *migrate {
			if err := sq.Migrate(); err != nil {
				log.Fatalf("Migration failed %v", err)
			}
			slog.Info("Migration Completed")
			return
		}
		conn = sq.Db
	}
	defer conn.Close()
	db := storage.Wrap(conn, cfg.DBDriver)

	//realtime hub
	hub := realtime.NewHub(db)
	go hub.Run()

	//notification pipeline
	sender := &push.WebPushSender{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subject:    cfg.VAPIDSubject,
	}
	events := notifier.New(db, sender, mailer.New(cfg.SendGridAPIKey, cfg.SendGridFrom))

	r := gin.Default()

	pub := r.Group("/api")
	users.RegisterPublic(pub, db, cfg)

	// trigger contract endpoint, invoked by the database webhook
	notifier.Register(r.Group("/"), events)
	realtime.RegisterWS(r.Group("/"), hub, cfg.JWTSecret)

	authed := r.Group("/api", auth.JWTMiddleware(cfg.JWTSecret))
	users.Register(authed, db)
	chat.Register(authed, db, hub, events)
	tasks.Register(authed, db, hub, events)
	notifications.Register(authed, db)
	push.Register(authed, db)

	slog.Info("listening", "addr", cfg.Addr)
	if err := r.Run(cfg.Addr); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
