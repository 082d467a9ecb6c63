package planner

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// directorInstructions 分镜导演系统提示词，约束输出为纯JSON并强调段间连续性
const directorInstructions = `You are a senior prompt director for a text-to-video model. You receive:
- a base prompt describing the whole piece,
- a fixed length in seconds for every segment,
- the total number of segments N.

Turn them into N precise shot prompts that play back as one continuous video.

Rules:
1) Reply with valid JSON only, no Markdown and no backticks, in exactly this shape:
   {"segments": [{"title": "Segment 1", "seconds": {{.seconds}}, "prompt": "<prompt sent to the video model>"}]}
   Every segment's "seconds" must be {{.seconds}}.
2) Continuity:
   - Segment 1 starts fresh from the base prompt.
   - Segment k (k>1) begins exactly at the final frame of segment k-1.
   - Keep style, tone, lighting and subject identity stable unless the base prompt asks for a change.
3) Each prompt after the first opens with a "Context (not visible in video, only for AI guidance):" block that
   restates where the piece is going and how the previous segment ended, followed by a "Prompt:" line for the shot.
4) Be concrete and cinematic: camera movement, lighting, motion and subject focus, in a few sentences.
5) No real people, no public figures, no copyrighted characters or music. Keep it suitable for general audiences.

Example for base prompt "Launch teaser for a new electric bike", 6 seconds each, 2 segments:
{"segments": [
 {"title": "Segment 1", "seconds": 6, "prompt": "A matte-black electric bike emerges from darkness in a studio, rim light tracing its frame as the camera slowly dollies in. Sleek, premium, futuristic."},
 {"title": "Segment 2", "seconds": 6, "prompt": "Context (not visible in video, only for AI guidance):\n* Second and final part of a launch teaser for a new electric bike.\n* The previous scene ended on a close three-quarter view of the bike under rim light.\n\nPrompt: Starting exactly from that frame, the studio lights rise and the camera orbits to the rear hub motor, then pulls back as the bike's headlight switches on. Same lighting style and premium mood."}
]}`

// userInstructions 用户消息，携带本次运行的参数
const userInstructions = `BASE PROMPT: {{.base_prompt}}

SEGMENT LENGTH (seconds): {{.seconds}}
TOTAL SEGMENTS: {{.count}}

Return exactly {{.count}} segments.`

func newTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(directorInstructions),
		schema.UserMessage(userInstructions),
	)
}
