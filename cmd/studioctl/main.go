// cmd/studioctl/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/Corphon/TubeAgentMCP/internal/backend"
	"github.com/Corphon/TubeAgentMCP/internal/config"
	"github.com/Corphon/TubeAgentMCP/internal/models"
	"github.com/Corphon/TubeAgentMCP/internal/services"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const version = "1.0.0"

var (
	serverURL  string
	configPath string
	inputText  string
	inputFiles []string
	withAudio  bool
	jsonOutput bool
	outputPath string
	scriptFile string
)

// cliSettings 是 ~/.tubeagent.yaml 的结构
type cliSettings struct {
	BackendURL string `yaml:"backend_url"`
}

var rootCmd = &cobra.Command{
	Use:   "studioctl",
	Short: "TubeAgent 命令行工具",
	Long:  `不经过 Web 工作台，直接调用生成后端完成脚本和旁白音频生成。`,
}

var classifyCmd = &cobra.Command{
	Use:   "classify [input]",
	Short: "预览输入的来源分类",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		input := strings.Join(args, " ")
		preview := services.PreviewClassification(input)

		if jsonOutput {
			printJSON(preview)
			return
		}
		fmt.Printf("来源类型: %s\n", preview.SourceType)
		fmt.Printf("词元数量: %d\n", preview.Tokens)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "生成视频脚本",
	Run: func(cmd *cobra.Command, args []string) {
		sourceType, content, err := resolveGenerateInput()
		if err != nil {
			log.Fatalf("❌ %v", err)
		}

		client := backend.NewClient(resolveBackendURL())

		fmt.Fprintf(os.Stderr, "⏳ 正在生成脚本 (来源: %s)...\n", sourceType)
		result, err := client.GenerateScript(context.Background(), sourceType, content)
		if err != nil {
			log.Fatalf("❌ 脚本生成失败: %v", err)
		}

		audioURL := ""
		if withAudio {
			fmt.Fprintln(os.Stderr, "⏳ 正在生成旁白音频...")
			raw, err := client.GenerateAudio(context.Background(), result.Script)
			if err != nil {
				log.Fatalf("❌ 音频生成失败: %v", err)
			}
			if audioURL, err = client.ResolveAudioURL(raw); err != nil {
				log.Fatalf("❌ 解析音频地址失败: %v", err)
			}
		}

		emitResult(result, audioURL)
	},
}

var audioCmd = &cobra.Command{
	Use:   "audio",
	Short: "为已有脚本生成旁白音频",
	Run: func(cmd *cobra.Command, args []string) {
		if scriptFile == "" {
			log.Fatal("❌ 请通过 --script-file 指定脚本文件")
		}

		data, err := os.ReadFile(scriptFile)
		if err != nil {
			log.Fatalf("❌ 读取脚本文件失败: %v", err)
		}
		script := strings.TrimSpace(string(data))
		if script == "" {
			log.Fatal("❌ 脚本文件为空")
		}

		client := backend.NewClient(resolveBackendURL())

		fmt.Fprintln(os.Stderr, "⏳ 正在生成旁白音频...")
		raw, err := client.GenerateAudio(context.Background(), script)
		if err != nil {
			log.Fatalf("❌ 音频生成失败: %v", err)
		}

		audioURL, err := client.ResolveAudioURL(raw)
		if err != nil {
			log.Fatalf("❌ 解析音频地址失败: %v", err)
		}

		if jsonOutput {
			printJSON(map[string]string{"audio_url": audioURL})
			return
		}
		fmt.Printf("音频地址: %s\n", audioURL)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("studioctl %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "生成后端地址")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "CLI 配置文件路径 (默认 ~/.tubeagent.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "以JSON格式输出结果")

	generateCmd.Flags().StringVar(&inputText, "input", "", "主题、仓库地址或脚本全文")
	generateCmd.Flags().StringArrayVar(&inputFiles, "file", nil, "素材文件，可重复指定")
	generateCmd.Flags().BoolVar(&withAudio, "audio", false, "脚本生成后继续生成旁白音频")
	generateCmd.Flags().StringVar(&outputPath, "out", "", "将脚本写入指定文件")

	audioCmd.Flags().StringVar(&scriptFile, "script-file", "", "脚本文件路径")

	rootCmd.AddCommand(classifyCmd, generateCmd, audioCmd, versionCmd)
}

// resolveBackendURL 按优先级解析后端地址：
// --server 参数 > TUBEAGENT_BACKEND_URL 环境变量 > 配置文件 > 内置默认值
func resolveBackendURL() string {
	if serverURL != "" {
		return serverURL
	}

	if envURL := os.Getenv("TUBEAGENT_BACKEND_URL"); envURL != "" {
		return envURL
	}

	if settings := loadCLISettings(); settings != nil && settings.BackendURL != "" {
		return settings.BackendURL
	}

	return config.DefaultBackendURL
}

// loadCLISettings 读取CLI配置文件，读取失败按无配置处理
func loadCLISettings() *cliSettings {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".tubeagent.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var settings cliSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️ 配置文件解析失败，已忽略: %v\n", err)
		return nil
	}
	return &settings
}

// resolveGenerateInput 确定生成的来源类型和内容
func resolveGenerateInput() (models.SourceType, string, error) {
	if len(inputFiles) > 0 {
		files := make([]services.UploadedFile, 0, len(inputFiles))
		for _, path := range inputFiles {
			if err := services.ValidateUploadName(filepath.Base(path)); err != nil {
				return "", "", err
			}

			p := path
			files = append(files, services.UploadedFile{
				Name: filepath.Base(p),
				Open: func() (io.ReadCloser, error) {
					return os.Open(p)
				},
			})
		}

		content, err := services.AggregateFiles(files)
		if err != nil {
			return "", "", err
		}
		return models.SourceFile, content, nil
	}

	if strings.TrimSpace(inputText) == "" {
		return "", "", fmt.Errorf("请通过 --input 或 --file 提供生成素材")
	}

	return services.ClassifySource(inputText), inputText, nil
}

// emitResult 输出脚本生成结果
func emitResult(result *models.ScriptResult, audioURL string) {
	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(result.Script), 0644); err != nil {
			log.Fatalf("❌ 写入输出文件失败: %v", err)
		}
		fmt.Fprintf(os.Stderr, "✅ 脚本已写入 %s\n", outputPath)
	}

	if jsonOutput {
		payload := map[string]interface{}{
			"script":      result.Script,
			"title":       result.Title,
			"description": result.Description,
			"tags":        result.Tags,
		}
		if audioURL != "" {
			payload["audio_url"] = audioURL
		}
		printJSON(payload)
		return
	}

	fmt.Printf("标题: %s\n", result.Title)
	if result.Description != "" {
		fmt.Printf("描述: %s\n", result.Description)
	}
	if len(result.Tags) > 0 {
		fmt.Printf("标签: %s\n", strings.Join(result.Tags, ", "))
	}
	if audioURL != "" {
		fmt.Printf("音频地址: %s\n", audioURL)
	}
	if outputPath == "" {
		fmt.Println("---")
		fmt.Println(result.Script)
	}
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("❌ 序列化输出失败: %v", err)
	}
	fmt.Println(string(data))
}

func main() {
	// 允许从 .env 注入 TUBEAGENT_BACKEND_URL
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
