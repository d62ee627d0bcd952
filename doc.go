// Package doctrans exposes the Go APIs behind the document transfer and
// translation service: uploads land in object storage, translation jobs
// run asynchronously against a batch translation service, and every
// document moves over short-lived capability URLs instead of shared
// credentials.
//
// # Running a server
//
// The server listens on the network specified by Config.ListenProto
// (default "tcp") and address Config.Listen.
//
//	cfg := doctrans.Config{
//	    Store:              "azure://myaccount",
//	    TranslatorEndpoint: "https://mytranslator.cognitiveservices.azure.com",
//	    TranslatorAPIKey:   os.Getenv("TRANSLATOR_KEY"),
//	}
//	srv, err := doctrans.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("doctrans: %v", err)
//	    }
//	}()
//	defer func() {
//	    if err := srv.Shutdown(context.Background()); err != nil {
//	        log.Printf("doctrans shutdown: %v", err)
//	    }
//	}()
//
// Storage backends are selected through the Store URL: azure://account
// for Azure Blob (shared key or Entra identity), s3://host[:port] for
// S3-compatible services such as MinIO, aws://region for AWS S3, and
// memory:// for tests. Documents land in two containers, one for
// uploaded sources and one for translated targets; capability URLs are
// signed per container with the narrowest permission set the operation
// needs.
//
// # Embedding
//
// StartServer runs the server in a background goroutine and returns a
// stop function, which suits tests and sidecar setups:
//
//	srv, stop, err := doctrans.StartServer(ctx, cfg,
//	    doctrans.WithBackend(memory.New()),
//	    doctrans.WithTranslator(fake),
//	)
//	if err != nil { log.Fatal(err) }
//	defer stop(context.Background())
//
// The HTTP surface is mounted with Server.Handler when the server should
// live inside an existing mux.
package doctrans
