package services

import (
	"fmt"
	"strings"

	"pcbrecon-backend/internal/gemini"
	"pcbrecon-backend/internal/models"
)

const analysisPrompt = `Analyze this PCB image. Provide a concise, high-level summary in Markdown format using the following bolded headings: **Board Overview**, **Key Components**, and **Notable Features**.

IMPORTANT: Under each heading, provide a very brief, 2-3 sentence summary only. The goal is a quick, at-a-glance overview.`

const chatSystemPrompt = `You are a world-class embedded hardware reverse engineer. You infer board details by using: visual traits of the PCB image, silkscreen labels, package shapes, regulator layout patterns, crystal placement, trace routing, and connector styles.

Rules:
- Always reason using the PCB image context.
- When unsure, provide best-effort engineering hypothesis and explain clues.
- Identify microcontrollers, power circuits, memory, sensors, RF modules.
- Detect debug interfaces such as SWD, JTAG, UART, SPI, ISP, Tag-Connect.
- Assign component labels like U1, U2, C3, R10, J1.
- If a component seems like Flash, SDRAM, PMIC, signal buffer, or RF transceiver, state so.
- Provide hierarchy: power, logic core, comms, sensors, IO.
- Refer to pads, routing direction, and functional grouping when giving answers.`

const componentsPrompt = `Identify and list all hardware components on this PCB. Give one component per line with its designator (if visible), package, marking, and likely function.`

const microcontrollerPrompt = `Based on the following components detected on a PCB, identify the main microcontroller or processor. Give the most likely part number, manufacturer and core architecture, and list the clues that support the identification.

Components:
%s`

const securityPrompt = `Perform a detailed hardware security assessment for the following components:
%s

Include analysis of:
- Exposed debugging interfaces
- Insecure communication protocols
- Potential attack vectors
- Recommendations for securing the hardware`

const (
	imageIntro      = "This is the PCB image under discussion."
	acknowledgement = "Understood. I have analyzed the PCB image and am ready to help with your questions."
	noAnalysis      = "No initial analysis is available for this board yet."
)

func buildAnalysisRequest(image gemini.Part) *gemini.GenerateRequest {
	return &gemini.GenerateRequest{
		Contents: []gemini.Content{{
			Role:  gemini.RoleUser,
			Parts: []gemini.Part{gemini.TextPart(analysisPrompt), image},
		}},
	}
}

func buildComponentsRequest(image gemini.Part) *gemini.GenerateRequest {
	return &gemini.GenerateRequest{
		Contents: []gemini.Content{{
			Role:  gemini.RoleUser,
			Parts: []gemini.Part{gemini.TextPart(componentsPrompt), image},
		}},
	}
}

func buildTextRequest(format, components string) *gemini.GenerateRequest {
	return &gemini.GenerateRequest{
		Contents: []gemini.Content{{
			Role:  gemini.RoleUser,
			Parts: []gemini.Part{gemini.TextPart(fmt.Sprintf(format, components))},
		}},
	}
}

// renderReport lays the assessment out as one Markdown document.
func renderReport(projectName, components, microcontroller, security string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# PCB Analysis Report: %s\n\n", projectName)
	fmt.Fprintf(&sb, "## 1. Detected Components\n\n%s\n\n", components)
	fmt.Fprintf(&sb, "## 2. Identified Microcontroller\n\n%s\n\n", microcontroller)
	fmt.Fprintf(&sb, "## 3. Security Analysis\n\n%s\n", security)
	return sb.String()
}

// buildChatRequest replays history after the image preamble and ends with the
// new user message. Adjacent turns from the same side are merged, which also
// covers a user message left behind by a failed turn.
func buildChatRequest(project *models.Project, image gemini.Part, history []models.ChatMessage, message string) *gemini.GenerateRequest {
	system := chatSystemPrompt + "\n\n"
	if project.Analysis.Valid && strings.TrimSpace(project.Analysis.String) != "" {
		system += "Initial analysis: " + project.Analysis.String
	} else {
		system += noAnalysis
	}

	contents := []gemini.Content{
		{Role: gemini.RoleUser, Parts: []gemini.Part{gemini.TextPart(imageIntro), image}},
		{Role: gemini.RoleModel, Parts: []gemini.Part{gemini.TextPart(acknowledgement)}},
	}
	for _, m := range history {
		contents = appendTurn(contents, roleFor(m.Sender), m.Message)
	}
	contents = appendTurn(contents, gemini.RoleUser, message)

	return &gemini.GenerateRequest{
		SystemInstruction: &gemini.Content{Parts: []gemini.Part{gemini.TextPart(system)}},
		Contents:          contents,
	}
}

func roleFor(sender models.Sender) string {
	if sender == models.SenderBot {
		return gemini.RoleModel
	}
	return gemini.RoleUser
}

func appendTurn(contents []gemini.Content, role, text string) []gemini.Content {
	if n := len(contents); n > 0 && contents[n-1].Role == role {
		contents[n-1].Parts = append(contents[n-1].Parts, gemini.TextPart(text))
		return contents
	}
	return append(contents, gemini.Content{Role: role, Parts: []gemini.Part{gemini.TextPart(text)}})
}
