package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"knowledgehub/api"
	"knowledgehub/internal/config"
	"knowledgehub/internal/ingest"
	"knowledgehub/internal/logger"
	"knowledgehub/internal/models"
	"knowledgehub/pkg/types"

	"github.com/urfave/cli/v2"
)

func main() {
	if _, err := config.LoadDotEnv(); err != nil {
		log.Printf("加载 .env 失败: %v", err)
	}
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "kbctl",
		Usage: "知识库运维命令行：创建、上传、同步与删除",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Usage:   "配置环境名，读取 config/<env>.yaml",
				Value:   "dev",
				EnvVars: []string{"APP_ENV"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径，优先于 --env",
				EnvVars: []string{"APP_CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "日志级别 (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: func(c *cli.Context) error {
			return logger.Init(c.String("log-level"), "console", "stderr")
		},
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "创建知识库",
				Action: withContainer(createCommand),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "知识库名称", Required: true},
					&cli.StringFlag{Name: "embedding-model", Usage: "向量模型 (openai, gemini)", Value: "openai"},
					&cli.StringFlag{Name: "vector-store", Usage: "向量库 (pgvector, qdrant)", Value: "pgvector"},
					&cli.StringFlag{Name: "description", Usage: "描述"},
					&cli.StringFlag{Name: "category", Usage: "分类"},
					&cli.StringFlag{Name: "created-by", Usage: "创建者用户 ID", Value: "kbctl"},
				},
			},
			{
				Name:   "list",
				Usage:  "分页列出知识库",
				Action: withContainer(listCommand),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "按状态过滤"},
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.IntFlag{Name: "page-size", Value: 20},
				},
			},
			{
				Name:      "files",
				Usage:     "列出知识库的源文件",
				ArgsUsage: "<kb_id>",
				Action:    withContainer(filesCommand),
			},
			{
				Name:      "upload",
				Usage:     "上传本地文件",
				ArgsUsage: "<kb_id> <path>...",
				Action:    withContainer(uploadCommand),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "uploaded-by", Usage: "上传者用户 ID", Value: "kbctl"},
				},
			},
			{
				Name:      "ingest-url",
				Usage:     "抓取网页作为源文件",
				ArgsUsage: "<kb_id> <url>",
				Action:    withContainer(ingestURLCommand),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "uploaded-by", Usage: "上传者用户 ID", Value: "kbctl"},
				},
			},
			{
				Name:      "sync",
				Usage:     "同步知识库到向量库",
				ArgsUsage: "<kb_id>",
				Action:    withContainer(syncCommand),
			},
			{
				Name:      "delete",
				Usage:     "删除知识库及其全部文件",
				ArgsUsage: "<kb_id>",
				Action:    withContainer(deleteCommand),
			},
			{
				Name:      "delete-file",
				Usage:     "删除单个源文件",
				ArgsUsage: "<kb_id> <file_id>",
				Action:    withContainer(deleteFileCommand),
			},
		},
	}
}

type commandFunc func(ctx context.Context, c *cli.Context, container *api.AppContainer) error

// withContainer 加载配置并组装容器，命令结束后释放；收到中断信号时取消 ctx
func withContainer(fn commandFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c.String("env"), c.String("config"))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		container, err := api.NewContainer(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := container.Close(); err != nil {
				logger.Get().Sugar().Warnf("释放资源失败: %v", err)
			}
		}()
		return fn(ctx, c, container)
	}
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() < n {
		return cli.Exit(fmt.Sprintf("用法: %s %s %s", c.App.Name, c.Command.Name, c.Command.ArgsUsage), 2)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createCommand(ctx context.Context, c *cli.Context, container *api.AppContainer) error {
	kb, err := container.Ingest.CreateKnowledgeBase(ctx, ingest.CreateKnowledgeBaseInput{
		Name:           c.String("name"),
		Description:    c.String("description"),
		Category:       c.String("category"),
		EmbeddingModel: c.String("embedding-model"),
		VectorStore:    c.String("vector-store"),
		CreatedBy:      c.String("created-by"),
	})
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, kb)
}

func listCommand(ctx context.Context, c *cli.Context, container *api.AppContainer) error {
	kbs, page, err := container.Ingest.ListKnowledgeBases(ctx,
		models.KnowledgeBaseFilter{Status: c.String("status")},
		&types.PaginationRequest{Page: c.Int("page"), PageSize: c.Int("page-size")},
	)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, map[string]any{"items": kbs, "pagination": page})
}

func filesCommand(ctx context.Context, c *cli.Context, container *api.AppContainer) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	files, err := container.Ingest.ListFiles(ctx, c.Args().First())
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, files)
}

func uploadCommand(ctx context.Context, c *cli.Context, container *api.AppContainer) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	kbID := c.Args().First()

	var inputs []ingest.NamedReader
	for _, path := range c.Args().Tail() {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("打开 %s 失败: %w", path, err)
		}
		defer f.Close()
		inputs = append(inputs, ingest.NamedReader{Name: filepath.Base(path), Reader: f})
	}

	result, err := container.Ingest.UploadFiles(ctx, kbID, c.String("uploaded-by"), inputs)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, result)
}

func ingestURLCommand(ctx context.Context, c *cli.Context, container *api.AppContainer) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	file, err := container.Ingest.IngestURL(ctx, c.Args().Get(0), c.String("uploaded-by"), c.Args().Get(1))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, file)
}

// syncCommand 失败时仍输出处理结果再返回错误
func syncCommand(ctx context.Context, c *cli.Context, container *api.AppContainer) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	result, err := container.Ingest.Sync(ctx, c.Args().First())
	if result != nil {
		if perr := printJSON(c.App.Writer, result); perr != nil {
			return perr
		}
	}
	return err
}

func deleteCommand(ctx context.Context, c *cli.Context, container *api.AppContainer) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	kbID := c.Args().First()
	if err := container.Ingest.DeleteKnowledgeBase(ctx, kbID); err != nil {
		return err
	}
	_, err := fmt.Fprintf(c.App.Writer, "Knowledge base %s deleted\n", kbID)
	return err
}

func deleteFileCommand(ctx context.Context, c *cli.Context, container *api.AppContainer) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	status, err := container.Ingest.DeleteFile(ctx, c.Args().Get(0), c.Args().Get(1))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, map[string]string{"file_id": c.Args().Get(1), "kb_status": status})
}
